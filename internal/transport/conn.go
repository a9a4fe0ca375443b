package transport

import "net"

// netSender adapts a net.Conn to broker.Sender.
type netSender struct {
	conn net.Conn
}

func (n *netSender) Send(frame []byte) error {
	_, err := n.conn.Write(frame)
	return err
}

func (n *netSender) Close() error { return n.conn.Close() }

func (n *netSender) RemoteAddr() string {
	if n.conn == nil || n.conn.RemoteAddr() == nil {
		return ""
	}
	return n.conn.RemoteAddr().String()
}
