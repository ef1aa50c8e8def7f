package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sirosfoundation/go-customs/pkg/response"
	"github.com/sirosfoundation/go-customs/pkg/transport"
	"github.com/sirosfoundation/go-customs/pkg/wire"
)

func TestCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"validation", &wire.ValidationError{Operation: wire.OpRegisterTitle, Problems: []string{"x"}}, "VALIDATION"},
		{"joined validation", errors.Join(nil, &wire.ValidationError{}), "VALIDATION"},
		{"fault code", &FaultError{Code: "10234"}, "10234"},
		{"generic soap fault", &FaultError{Code: "Server", Message: "Peso invalido"}, "REMOTE_FAULT"},
		{"dotted soap fault", &FaultError{Code: "Client.Authentication"}, "REMOTE_FAULT"},
		{"soap 1.2 receiver", &FaultError{Code: "Receiver"}, "REMOTE_FAULT"},
		{"too large", fmt.Errorf("%w: more than 16 bytes", transport.ErrResponseTooLarge), "RESPONSE_TOO_LARGE"},
		{"fault without code", &FaultError{Message: "boom"}, "REMOTE_FAULT"},
		{"parse", &FaultError{parse: true}, "PARSE"},
		{"ambiguous in step", &StepError{Step: StepDetail, Err: &AmbiguousResponseError{}}, "AMBIGUOUS"},
		{"status", fmt.Errorf("%w: %w", transport.ErrNetwork, &transport.StatusError{StatusCode: 503}), "HTTP-503"},
		{"timeout", fmt.Errorf("%w: slow", transport.ErrTimeout), "TIMEOUT"},
		{"network", fmt.Errorf("%w: refused", transport.ErrNetwork), "NETWORK"},
		{"cancelled", context.Canceled, "CANCELLED"},
		{"resume", fmt.Errorf("%w: step title", ErrResumeUnsafe), "VALIDATION"},
		{"other", errors.New("disk full"), ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Code(tt.err))
		})
	}
}

func TestFaultErrorUnwrap(t *testing.T) {
	assert.ErrorIs(t, &FaultError{}, ErrRemoteFault)
	assert.ErrorIs(t, &FaultError{parse: true}, response.ErrParse)
	assert.NotErrorIs(t, &FaultError{parse: true}, ErrRemoteFault)
}

func TestRawPayload(t *testing.T) {
	assert.Equal(t, []byte("<f/>"), rawPayload(&StepError{Err: &FaultError{Raw: []byte("<f/>")}}))
	assert.Equal(t, []byte("busy"), rawPayload(&transport.StatusError{StatusCode: 503, Body: []byte("busy")}))
	assert.Nil(t, rawPayload(errors.New("x")))
}
