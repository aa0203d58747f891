package domain

// Message is a full DNS message: a header plus the four ordered sections.
type Message struct {
	Header     Header
	Questions  []Question
	Answers    []Record
	Authority  []Record
	Additional []Record
}

// NewQueryMessage builds a minimal outbound query message for the given
// question, with a fresh header (RD unset — upstream queries from this
// resolver are always non-recursive).
func NewQueryMessage(id uint16, q Question) Message {
	return Message{
		Header: Header{
			ID:      id,
			QDCount: 1,
		},
		Questions: []Question{q},
	}
}

// clone returns a deep copy of the message so that flag-mutation helpers
// never alter the caller's value in place.
func (m Message) clone() Message {
	cp := m
	cp.Questions = append([]Question(nil), m.Questions...)
	cp.Answers = append([]Record(nil), m.Answers...)
	cp.Authority = append([]Record(nil), m.Authority...)
	cp.Additional = append([]Record(nil), m.Additional...)
	return cp
}

// AsResponse returns a copy with QR set, marking the message a response.
func (m Message) AsResponse() Message {
	cp := m.clone()
	cp.Header.QR = true
	return cp
}

// WithAA returns a copy with the Authoritative Answer bit set as given.
func (m Message) WithAA(aa bool) Message {
	cp := m.clone()
	cp.Header.AA = aa
	return cp
}

// WithTC returns a copy with the Truncation bit set as given.
func (m Message) WithTC(tc bool) Message {
	cp := m.clone()
	cp.Header.TC = tc
	return cp
}

// WithRD returns a copy with the Recursion Desired bit set as given.
func (m Message) WithRD(rd bool) Message {
	cp := m.clone()
	cp.Header.RD = rd
	return cp
}

// WithRA returns a copy with the Recursion Available bit set as given.
func (m Message) WithRA(ra bool) Message {
	cp := m.clone()
	cp.Header.RA = ra
	return cp
}

// WithRCode returns a copy with the given response code.
func (m Message) WithRCode(rc RCode) Message {
	cp := m.clone()
	cp.Header.RCode = rc
	return cp
}

// WithSections returns a copy with the answer/authority/additional
// sections (and their header counts) replaced wholesale. Used by the
// resolver to install a freshly computed answer set before serializing.
func (m Message) WithSections(answers, authority, additional []Record) Message {
	cp := m.clone()
	cp.Answers = answers
	cp.Authority = authority
	cp.Additional = additional
	cp.Header.ANCount = uint16(len(answers))
	cp.Header.NSCount = uint16(len(authority))
	cp.Header.ARCount = uint16(len(additional))
	return cp
}

// Records yields every resource record across answer, authority and
// additional sections, in section order.
func (m Message) Records() []Record {
	all := make([]Record, 0, len(m.Answers)+len(m.Authority)+len(m.Additional))
	all = append(all, m.Answers...)
	all = append(all, m.Authority...)
	all = append(all, m.Additional...)
	return all
}
