// Package decoder turns raw chainhook events into typed stream events.
//
// Two shapes are accepted: chainhook SmartContractEvent print events, where the
// contract's tuple sits under data.value, and flat maps that carry the "event"
// discriminator at the top level, with the stream fields beside it or in a
// nested "value" map. Integers may arrive as JSON numbers, decimal
// strings or Clarity uints ("u1000"). Keys are matched in kebab-case, so
// "stream-id", "stream_id" and "streamId" are the same field.
//
// Decoding has no side effects and is safe to retry.
package decoder

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"unicode"

	"github.com/vietddude/streamledger/internal/core/domain"
)

// ErrNotStreamEvent is returned for chain events that are not stream print events,
// such as token transfers or prints from contracts outside the filter.
var ErrNotStreamEvent = errors.New("not a stream event")

// DecodeError describes why a stream event could not be decoded.
type DecodeError struct {
	Kind  error // domain.ErrUnknownEventType or domain.ErrMalformedPayload
	Event string
	Field string
	Err   error
}

func (e *DecodeError) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.Error())
	if e.Event != "" {
		fmt.Fprintf(&b, " (event %q)", e.Event)
	}
	if e.Field != "" {
		fmt.Fprintf(&b, ": field %q", e.Field)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *DecodeError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func malformed(event, field string, err error) *DecodeError {
	return &DecodeError{Kind: domain.ErrMalformedPayload, Event: event, Field: field, Err: err}
}

// Decoder decodes stream events, optionally restricted to a set of contracts.
type Decoder struct {
	contracts map[string]struct{}
}

// New creates a decoder. An empty contract list accepts prints from any contract.
func New(contracts []string) *Decoder {
	d := &Decoder{contracts: make(map[string]struct{}, len(contracts))}
	for _, c := range contracts {
		if c = strings.TrimSpace(c); c != "" {
			d.contracts[c] = struct{}{}
		}
	}
	return d
}

type chainEvent struct {
	Type     string `json:"type"`
	Position *struct {
		Index *int `json:"index"`
	} `json:"position"`
	Data *struct {
		ContractIdentifier string          `json:"contract_identifier"`
		Topic              string          `json:"topic"`
		Value              json.RawMessage `json:"value"`
	} `json:"data"`
	Event json.RawMessage `json:"event"`
}

// Position returns the event's position in the transaction log, if it carries one.
func Position(raw json.RawMessage) (int, bool) {
	var ev chainEvent
	if err := json.Unmarshal(raw, &ev); err != nil || ev.Position == nil || ev.Position.Index == nil {
		return 0, false
	}
	return *ev.Position.Index, true
}

// Decode parses one raw event.
func (d *Decoder) Decode(raw json.RawMessage) (*domain.Event, error) {
	var ev chainEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, malformed("", "", err)
	}

	var (
		contract string
		value    json.RawMessage
	)
	switch {
	case ev.Data != nil:
		if ev.Type != "" && ev.Type != "SmartContractEvent" && ev.Type != "smart_contract_log" {
			return nil, ErrNotStreamEvent
		}
		if ev.Data.Topic != "" && ev.Data.Topic != "print" {
			return nil, ErrNotStreamEvent
		}
		contract = ev.Data.ContractIdentifier
		value = ev.Data.Value
	case len(ev.Event) > 0:
		value = raw
	default:
		return nil, ErrNotStreamEvent
	}

	if len(d.contracts) > 0 {
		if _, ok := d.contracts[contract]; !ok {
			return nil, ErrNotStreamEvent
		}
	}

	fields, err := parseFields(value)
	if err != nil {
		return nil, malformed("", "value", err)
	}
	fields.liftValue()

	name, err := fields.str("event")
	if err != nil {
		return nil, malformed("", "event", err)
	}

	out := &domain.Event{Type: domain.EventType(name), Contract: contract}
	switch out.Type {
	case domain.EventTypeStreamCreated:
		err = fields.decodeCreated(out)
	case domain.EventTypeStreamWithdrawal:
		err = fields.decodeWithdrawal(out)
	case domain.EventTypeStreamCancelled:
		err = fields.decodeCancelled(out)
	default:
		return nil, &DecodeError{Kind: domain.ErrUnknownEventType, Event: name}
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

type fieldMap map[string]any

func parseFields(raw json.RawMessage) (fieldMap, error) {
	if len(raw) == 0 {
		return nil, errors.New("missing value")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, err
	}
	fields := make(fieldMap, len(m))
	for k, v := range m {
		fields[normalizeKey(k)] = v
	}
	return fields, nil
}

// liftValue handles {"event": ..., "value": {...}} where the stream fields sit
// in the nested map. Top-level fields win.
func (f fieldMap) liftValue() {
	nested, ok := f["value"].(map[string]any)
	if !ok {
		return
	}
	if _, ok := f["stream-id"]; ok {
		return
	}
	for k, v := range nested {
		k = normalizeKey(k)
		if _, ok := f[k]; !ok {
			f[k] = v
		}
	}
}

// normalizeKey maps camelCase and snake_case keys to kebab-case. A run of
// capitals is one word, so "streamID" is "stream-id".
func normalizeKey(k string) string {
	var (
		b    strings.Builder
		prev rune
	)
	for _, r := range k {
		switch {
		case r == '_':
			b.WriteByte('-')
		case unicode.IsUpper(r):
			if unicode.IsLower(prev) || unicode.IsDigit(prev) {
				b.WriteByte('-')
			}
			b.WriteRune(unicode.ToLower(r))
		default:
			b.WriteRune(r)
		}
		prev = r
	}
	return b.String()
}

func (f fieldMap) lookup(names ...string) (any, string, bool) {
	for _, n := range names {
		if v, ok := f[n]; ok && v != nil {
			return v, n, true
		}
	}
	return nil, names[0], false
}

func (f fieldMap) str(names ...string) (string, error) {
	v, _, ok := f.lookup(names...)
	if !ok {
		return "", errors.New("missing")
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("expected string, got %T", v)
	}
	s = strings.TrimPrefix(strings.TrimSpace(s), "'")
	if s == "" {
		return "", errors.New("empty")
	}
	return s, nil
}

func (f fieldMap) bigInt(names ...string) (*big.Int, error) {
	v, _, ok := f.lookup(names...)
	if !ok {
		return nil, errors.New("missing")
	}

	var text string
	switch t := v.(type) {
	case json.Number:
		text = t.String()
	case string:
		text = strings.TrimPrefix(strings.TrimSpace(t), "u")
	default:
		return nil, fmt.Errorf("expected integer, got %T", v)
	}

	n, ok := new(big.Int).SetString(text, 10)
	if !ok {
		return nil, fmt.Errorf("invalid integer %q", text)
	}
	if n.Sign() < 0 {
		return nil, fmt.Errorf("negative integer %s", n)
	}
	return n, nil
}

func (f fieldMap) uint64(names ...string) (uint64, error) {
	n, err := f.bigInt(names...)
	if err != nil {
		return 0, err
	}
	if !n.IsUint64() {
		return 0, fmt.Errorf("integer %s overflows uint64", n)
	}
	return n.Uint64(), nil
}

func (f fieldMap) streamID(ev *domain.Event) error {
	id, err := f.uint64("stream-id", "id")
	if err != nil {
		return malformed(string(ev.Type), "stream-id", err)
	}
	ev.StreamID = id
	return nil
}

func (f fieldMap) decodeCreated(ev *domain.Event) error {
	if err := f.streamID(ev); err != nil {
		return err
	}

	var err error
	if ev.Sender, err = f.str("sender"); err != nil {
		return malformed(string(ev.Type), "sender", err)
	}
	if ev.Recipient, err = f.str("recipient"); err != nil {
		return malformed(string(ev.Type), "recipient", err)
	}
	if ev.Amount, err = f.bigInt("amount", "total-amount"); err != nil {
		return malformed(string(ev.Type), "amount", err)
	}
	if ev.StartBlock, err = f.uint64("start-block"); err != nil {
		return malformed(string(ev.Type), "start-block", err)
	}
	if ev.EndBlock, err = f.uint64("end-block"); err != nil {
		return malformed(string(ev.Type), "end-block", err)
	}
	if ev.EndBlock <= ev.StartBlock {
		return malformed(string(ev.Type), "end-block",
			fmt.Errorf("end block %d must be after start block %d", ev.EndBlock, ev.StartBlock))
	}
	return nil
}

func (f fieldMap) decodeWithdrawal(ev *domain.Event) error {
	if err := f.streamID(ev); err != nil {
		return err
	}

	amount, err := f.bigInt("amount")
	if err != nil {
		return malformed(string(ev.Type), "amount", err)
	}
	ev.Amount = amount
	if r, err := f.str("recipient"); err == nil {
		ev.Recipient = r
	}
	return nil
}

func (f fieldMap) decodeCancelled(ev *domain.Event) error {
	if err := f.streamID(ev); err != nil {
		return err
	}

	if _, _, ok := f.lookup("cancelled-at-block", "cancelled-at"); ok {
		at, err := f.uint64("cancelled-at-block", "cancelled-at")
		if err != nil {
			return malformed(string(ev.Type), "cancelled-at-block", err)
		}
		ev.CancelledAtBlock = &at
	}
	return nil
}
