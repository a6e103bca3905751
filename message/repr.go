package message

// repr is the in-envelope representation of an erased value: the payload
// paired with the capability table of its concrete type. A repr is written
// once when the envelope is built and emptied at most once; taking the
// payload out consumes it.
type repr struct {
	vt    *VTable
	value Message
}

func (r *repr) empty() bool {
	return r.vt == nil
}

func (r *repr) write(vt *VTable, value Message) {
	assertContract(r.vt == nil, "envelope representation written twice")
	r.vt = vt
	r.value = value
}

// take moves the payload out and leaves the representation empty.
func (r *repr) take() (*VTable, Message) {
	assertContract(r.vt != nil, "envelope representation taken after consume")
	vt, value := r.vt, r.value
	r.vt = nil
	r.value = nil
	return vt, value
}

// peek returns the payload without consuming it.
func (r *repr) peek() (*VTable, Message) {
	assertContract(r.vt != nil, "envelope representation peeked after consume")
	return r.vt, r.value
}
