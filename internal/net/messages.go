package net

import (
	"encoding/binary"
	"errors"
	"math"

	. "dasim/internal/common"
)

var (
	ErrInvalidMessageType = errors.New("invalid message type")
	ErrMessageTooShort    = errors.New("message too short for specified username length")
	ErrMessageTooLong     = errors.New("message exceeds maximum frame size")
	ErrInvalidField       = errors.New("invalid field value")
)

type MessageType int

const (
	Heartbeat MessageType = iota
	NewOrder
)

type ReportMessageType int

const (
	ExecutionReport ReportMessageType = iota // one per trade the user took part in
	OrderReport                              // outcome of the user's own order
	ErrorReport
)

type Message interface {
	GetType() MessageType
}

// Message format constants
const (
	FrameHeaderLen           = 2 // big endian payload length
	BaseMessageHeaderLen     = 2
	NewOrderMessageHeaderLen = 2 + 8 + 8 + 4 + 1 + 1
)

// Generic message type.
type BaseMessage struct {
	TypeOf MessageType // 2 bytes
}

func (m BaseMessage) GetType() MessageType {
	return m.TypeOf
}

func (m BaseMessage) Serialize() []byte {
	buf := make([]byte, BaseMessageHeaderLen)
	binary.BigEndian.PutUint16(buf, uint16(m.TypeOf))
	return buf
}

func parseMessage(msg []byte) (Message, error) {
	if len(msg) < BaseMessageHeaderLen {
		return BaseMessage{}, errors.New("message too short to contain header")
	}

	typeOf := MessageType(binary.BigEndian.Uint16(msg[0:2]))
	msg = msg[2:]
	switch typeOf {
	case Heartbeat:
		return BaseMessage{TypeOf: Heartbeat}, nil
	case NewOrder:
		return parseNewOrder(msg)
	default:
		return BaseMessage{}, ErrInvalidMessageType
	}
}

type NewOrderMessage struct {
	BaseMessage
	OrderType   OrderType // 2 bytes
	LimitPrice  float64   // 8 bytes
	Quantity    uint64    // 8 bytes
	Lifetime    uint32    // 4 bytes
	Side        Side      // 1 byte
	UsernameLen uint8     // 1 byte
	Username    string    // n bytes
}

func (o *NewOrderMessage) Order() Order {
	return Order{
		OrderType: o.OrderType,
		Side:      o.Side,
		Price:     o.LimitPrice,
		Size:      o.Quantity,
		Lifetime:  int(o.Lifetime),
		Owner:     o.Username,
	}
}

func parseNewOrder(msg []byte) (NewOrderMessage, error) {
	m := NewOrderMessage{BaseMessage: BaseMessage{TypeOf: NewOrder}}
	if len(msg) < NewOrderMessageHeaderLen {
		return NewOrderMessage{}, ErrMessageTooShort
	}

	m.OrderType = OrderType(binary.BigEndian.Uint16(msg[0:2]))
	m.LimitPrice = math.Float64frombits(binary.BigEndian.Uint64(msg[2:10]))
	m.Quantity = binary.BigEndian.Uint64(msg[10:18])
	m.Lifetime = binary.BigEndian.Uint32(msg[18:22])
	m.Side = Side(msg[22])
	m.UsernameLen = uint8(msg[23])

	if m.OrderType != LimitOrder && m.OrderType != MarketOrder {
		return NewOrderMessage{}, ErrInvalidField
	}
	if m.Side != Buy && m.Side != Sell {
		return NewOrderMessage{}, ErrInvalidField
	}

	// Calculate expected total length.
	expectedTotalLen := NewOrderMessageHeaderLen + int(m.UsernameLen)
	if len(msg) < expectedTotalLen {
		return NewOrderMessage{}, ErrMessageTooShort
	}
	m.Username = string(msg[NewOrderMessageHeaderLen:expectedTotalLen])

	return m, nil
}

// Serialize converts the message to be sent on the wire, without framing.
func (o *NewOrderMessage) Serialize() []byte {
	buf := make([]byte, BaseMessageHeaderLen+NewOrderMessageHeaderLen+len(o.Username))
	binary.BigEndian.PutUint16(buf[0:2], uint16(NewOrder))
	body := buf[BaseMessageHeaderLen:]
	binary.BigEndian.PutUint16(body[0:2], uint16(o.OrderType))
	binary.BigEndian.PutUint64(body[2:10], math.Float64bits(o.LimitPrice))
	binary.BigEndian.PutUint64(body[10:18], o.Quantity)
	binary.BigEndian.PutUint32(body[18:22], o.Lifetime)
	body[22] = byte(o.Side)
	body[23] = byte(len(o.Username))
	copy(body[NewOrderMessageHeaderLen:], o.Username)
	return buf
}

// Frame prefixes payload with its length.
func Frame(payload []byte) ([]byte, error) {
	if len(payload) > MAX_RECV_SIZE {
		return nil, ErrMessageTooLong
	}
	buf := make([]byte, FrameHeaderLen+len(payload))
	binary.BigEndian.PutUint16(buf[0:2], uint16(len(payload)))
	copy(buf[FrameHeaderLen:], payload)
	return buf, nil
}

type Report struct {
	MessageType     ReportMessageType // 1 byte
	Side            Side              // 1 byte
	Outcome         uint8             // 1 byte, engine outcome for order reports
	Round           uint32            // 4 bytes
	Quantity        uint64            // 8 bytes
	Price           float64           // 8 bytes
	CounterpartyLen uint16            // 2 bytes
	ErrStrLen       uint32            // 4 bytes
	UUID            [16]byte          // 16 bytes, resting order id
	Err             string            // n bytes
	Counterparty    string            // n bytes (in this case we show who)
}

const reportFixedHeaderLen = 1 + 1 + 1 + 4 + 8 + 8 + 2 + 4 + 16

// Serialize converts the report to be sent on the wire, without framing.
func (r *Report) Serialize() []byte {
	r.ErrStrLen = uint32(len(r.Err))
	r.CounterpartyLen = uint16(len(r.Counterparty))
	totalSize := reportFixedHeaderLen + len(r.Err) + len(r.Counterparty)

	buf := make([]byte, totalSize)
	buf[0] = byte(r.MessageType)
	buf[1] = byte(r.Side)
	buf[2] = r.Outcome
	binary.BigEndian.PutUint32(buf[3:7], r.Round)
	binary.BigEndian.PutUint64(buf[7:15], r.Quantity)
	binary.BigEndian.PutUint64(buf[15:23], math.Float64bits(r.Price))
	binary.BigEndian.PutUint16(buf[23:25], r.CounterpartyLen)
	binary.BigEndian.PutUint32(buf[25:29], r.ErrStrLen)
	copy(buf[29:45], r.UUID[:])

	offset := reportFixedHeaderLen
	copy(buf[offset:], r.Err)
	offset += int(r.ErrStrLen)
	copy(buf[offset:], r.Counterparty)
	return buf
}

// ParseReport decodes a serialized report.
func ParseReport(buf []byte) (Report, error) {
	if len(buf) < reportFixedHeaderLen {
		return Report{}, ErrMessageTooShort
	}
	r := Report{
		MessageType:     ReportMessageType(buf[0]),
		Side:            Side(buf[1]),
		Outcome:         buf[2],
		Round:           binary.BigEndian.Uint32(buf[3:7]),
		Quantity:        binary.BigEndian.Uint64(buf[7:15]),
		Price:           math.Float64frombits(binary.BigEndian.Uint64(buf[15:23])),
		CounterpartyLen: binary.BigEndian.Uint16(buf[23:25]),
		ErrStrLen:       binary.BigEndian.Uint32(buf[25:29]),
	}
	copy(r.UUID[:], buf[29:45])

	end := reportFixedHeaderLen + int(r.ErrStrLen) + int(r.CounterpartyLen)
	if len(buf) < end {
		return Report{}, ErrMessageTooShort
	}
	offset := reportFixedHeaderLen
	r.Err = string(buf[offset : offset+int(r.ErrStrLen)])
	offset += int(r.ErrStrLen)
	r.Counterparty = string(buf[offset:end])
	return r, nil
}

// generateWireTradeReports builds the execution reports of a trade for the
// buyer and the seller, each naming the other as counterparty.
func generateWireTradeReports(round int, trade Trade) (buyer, seller []byte) {
	createReport := func(side Side, counterparty string) Report {
		r := Report{
			MessageType:  ExecutionReport,
			Side:         side,
			Round:        uint32(round),
			Quantity:     trade.Size,
			Price:        trade.Price,
			Counterparty: counterparty,
		}
		copy(r.UUID[:], trade.MakerOrder[:])
		return r
	}

	b := createReport(Buy, trade.Seller)
	s := createReport(Sell, trade.Buyer)
	return b.Serialize(), s.Serialize()
}

func generateWireErrorReport(err error) []byte {
	report := Report{
		MessageType: ErrorReport,
		Err:         err.Error(),
	}
	return report.Serialize()
}
