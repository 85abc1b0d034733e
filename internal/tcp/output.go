package tcp

import (
	"time"
)

const defaultRTO = 200 * time.Millisecond

// outputSegment builds and transmits one TCP segment via the IP
// collaborator (tcp_output_segment). It does not touch the retransmission
// queue — only output (below) enqueues sequence-consuming segments.
func (s *Stack) outputSegment(seq, ack uint32, flags Flags, window uint16, data []byte, local, foreign Endpoint) error {
	segment := buildSegment(local, foreign, seq, ack, flags, window, data)
	_, err := s.ip.Output(protocolTCP, segment, local.Addr, foreign.Addr)
	return err
}

// output composes a segment from pcb state (tcp_output): SYN-carrying
// segments use iss, otherwise snd.nxt; any segment that consumes sequence
// space (SYN, FIN, or non-empty payload) is queued for retransmission.
func (s *Stack) output(p *pcb, flags Flags, data []byte) error {
	seq := p.snd.nxt
	if flags.has(FlagSYN) {
		seq = p.iss
	}
	if flags.has(FlagSYN|FlagFIN) || len(data) > 0 {
		s.retransmitQueueAdd(p, seq, flags, data)
	}
	return s.outputSegment(seq, p.rcv.nxt, flags, p.rcv.wnd, data, p.local, p.foreign)
}

func (s *Stack) retransmitQueueAdd(p *pcb, seq uint32, flags Flags, data []byte) {
	p.rtQueue = append(p.rtQueue, newRetransmitEntry(s.now(), seq, flags, data))
}

// retransmitQueueCleanup drops every entry whose sequence has been fully
// acknowledged (entry.seq < snd.una), in FIFO order (tcp_retransmit_queue_cleanup).
func (s *Stack) retransmitQueueCleanup(p *pcb) {
	i := 0
	for i < len(p.rtQueue) && p.rtQueue[i].seq < p.snd.una {
		i++
	}
	p.rtQueue = p.rtQueue[i:]
}
