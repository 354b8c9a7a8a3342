package unixsocket

import "testing"

func BenchmarkBaseline(b *testing.B) {
	s, t := pair(b)

	m := make([]byte, 1024)
	b.ResetTimer()
	go func() {
		msg := []byte("message")
		for i := 0; i < b.N; i++ {
			s.SendMsg(msg, Msg{})
		}
	}()

	for i := 0; i < b.N; i++ {
		t.RecvMsg(m)
	}
}
