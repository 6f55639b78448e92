package fastcgi

// writeBytes enqueues b into the ring buffer destined for id.FD, splitting
// across as many RequestWrite/Commit pairs as the buffer's chunk layout
// requires. closeFD, if true, is attached only to the final commit so the
// connection closes only once every byte has been accounted for.
func (t *Transceiver) writeBytes(id FullID, b []byte, closeFD bool) {
	for len(b) > 0 {
		wb := t.RequestWrite(len(b))
		if len(wb.buf) == 0 {
			// No contiguous space left in the current chunk and rotation
			// didn't free any either; Commit(0,...) forces a rotation.
			t.SecureWrite(0, id, false)
			continue
		}
		n := copy(wb.buf, b)
		b = b[n:]
		t.SecureWrite(n, id, closeFD && len(b) == 0)
	}
}

// emitRecord frames payload as one or more records of type recType for id,
// each record's content capped at maxContentLength bytes, padded to a
// multiple of 8 total bytes. A zero-length payload still emits one empty
// record (used for stream terminators).
func emitRecord(t *Transceiver, recType RecType, id FullID, payload []byte, closeFD bool) {
	if len(payload) == 0 {
		t.writeBytes(id, frameOne(recType, id.RequestID, nil), closeFD)
		return
	}
	for len(payload) > 0 {
		n := len(payload)
		if n > maxContentLength {
			n = maxContentLength
		}
		last := n == len(payload)
		t.writeBytes(id, frameOne(recType, id.RequestID, payload[:n]), closeFD && last)
		payload = payload[n:]
	}
}

// frameOne builds the wire bytes (header + content + zero padding) for a
// single record whose content is <= maxContentLength.
func frameOne(recType RecType, reqID uint16, content []byte) []byte {
	var h Header
	h.Init(recType, reqID, len(content))
	hb, _ := h.MarshalBinary()

	out := make([]byte, 0, len(hb)+len(content)+int(h.PaddingLength))
	out = append(out, hb...)
	out = append(out, content...)
	if h.PaddingLength > 0 {
		out = append(out, make([]byte, h.PaddingLength)...)
	}
	return out
}
