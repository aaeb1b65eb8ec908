package relaymq

import (
	"time"

	"github.com/google/uuid"
)

// Producer builds Message content/Properties pairs with consistent
// stamping, so callers publishing many similar messages do not repeat the
// same Properties boilerplate at every call site.
type Producer struct {
	ContentType     string
	ContentEncoding string
	AppID           string
	Type            string

	// SetMessageID stamps a fresh random MessageID on every Build call whose
	// base has no MessageID.
	SetMessageID bool
	// SetTimestamp stamps the current UTC time on every Build call whose
	// base has a zero Timestamp.
	SetTimestamp bool
}

// Build returns the Properties a message produced by this Producer should
// carry: base with only its empty fields filled in from this Producer's
// stamping; values the caller already set are kept.
func (p *Producer) Build(base Properties) Properties {
	props := base
	if props.ContentType == "" {
		props.ContentType = p.ContentType
	}
	if props.ContentEncoding == "" {
		props.ContentEncoding = p.ContentEncoding
	}
	if props.AppID == "" {
		props.AppID = p.AppID
	}
	if props.Type == "" {
		props.Type = p.Type
	}
	if p.SetMessageID && props.MessageID == "" {
		props.MessageID = uuid.NewString()
	}
	if p.SetTimestamp && props.Timestamp.IsZero() {
		props.Timestamp = time.Now().UTC()
	}
	return props
}
