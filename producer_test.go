package relaymq

import (
	"testing"

	tdd "github.com/stretchr/testify/assert"
)

func TestProducerBuildStampsDefaults(t *testing.T) {
	p := &Producer{ContentType: "application/json", AppID: "billing", SetMessageID: true}
	props := p.Build(Properties{})
	tdd.Equal(t, "application/json", props.ContentType)
	tdd.Equal(t, "billing", props.AppID)
	tdd.NotEmpty(t, props.MessageID)
}

func TestProducerBuildDoesNotOverrideCaller(t *testing.T) {
	p := &Producer{ContentType: "application/json"}
	props := p.Build(Properties{ContentType: "text/plain"})
	tdd.Equal(t, "text/plain", props.ContentType)
}
