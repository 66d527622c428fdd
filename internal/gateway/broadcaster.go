package gateway

import (
	"strconv"
	"time"
)

// Broadcast wraps data in an envelope and sends it to every client whose
// filters match channel. Slow clients drop frames rather than block.
//
// Envelope: {"channel":"...","data":...,"ts":"...","seq":N,"channel_seq":M}
func (h *Hub) Broadcast(channel string, data []byte) {
	now := time.Now().UTC()

	h.mu.Lock()
	h.channelSeqs[channel]++
	channelSeq := h.channelSeqs[channel]
	h.latest[channel] = latestEntry{Data: data, TS: now, Seq: channelSeq}
	h.seq++
	seq := h.seq
	rb, exists := h.replayBufs[channel]
	if !exists {
		rb = NewReplayBuffer(replayDepth)
		h.replayBufs[channel] = rb
	}
	h.mu.Unlock()

	buf := buildEnvelope(channel, data, now, seq, channelSeq, false)
	rb.Push(channelSeq, buf)

	dropped := 0
	h.mu.RLock()
	for client := range h.clients {
		if !client.matchesChannel(channel) {
			continue
		}
		select {
		case client.send <- buf:
		default:
			dropped++
		}
	}
	h.mu.RUnlock()

	if dropped > 0 && h.prom != nil {
		h.prom.WSDroppedFrames.Add(float64(dropped))
	}
}

// buildEnvelope hand-crafts the envelope JSON; data is already JSON.
func buildEnvelope(channel string, data []byte, ts time.Time, seq, channelSeq int64, initial bool) []byte {
	buf := make([]byte, 0, len(channel)+len(data)+160)
	buf = append(buf, `{"channel":"`...)
	buf = append(buf, channel...)
	buf = append(buf, `","data":`...)
	buf = append(buf, data...)
	buf = append(buf, `,"ts":"`...)
	buf = ts.AppendFormat(buf, time.RFC3339Nano)
	buf = append(buf, `","seq":`...)
	buf = strconv.AppendInt(buf, seq, 10)
	buf = append(buf, `,"channel_seq":`...)
	buf = strconv.AppendInt(buf, channelSeq, 10)
	if initial {
		buf = append(buf, `,"initial":true`...)
	}
	buf = append(buf, '}')
	return buf
}
