package events

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStampFillsRequestContext(t *testing.T) {
	ctx := WithRequestInfo(context.Background(), RequestInfo{
		RequestID:     "r-1",
		SourceAddress: "10.0.0.9:4431",
	})

	stamped := Stamp(ctx, Event{ClientID: "acme", Type: TypeAuthFailure})
	assert.Equal(t, "r-1", stamped.RequestID)
	assert.Equal(t, "10.0.0.9:4431", stamped.SourceAddress)
}

func TestStampKeepsExplicitValues(t *testing.T) {
	ctx := WithRequestInfo(context.Background(), RequestInfo{RequestID: "r-1"})

	kept := Stamp(ctx, Event{RequestID: "explicit"})
	assert.Equal(t, "explicit", kept.RequestID)
}

func TestStampWithoutRequestInfo(t *testing.T) {
	e := Stamp(context.Background(), Event{ClientID: "acme"})
	assert.Empty(t, e.RequestID)
	assert.Empty(t, e.SourceAddress)
}
