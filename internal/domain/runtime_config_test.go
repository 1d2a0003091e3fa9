package domain

import (
	"errors"
	"testing"
)

func TestRuntimeConfigWith(t *testing.T) {
	base := DefaultRuntimeConfig()

	tests := []struct {
		param   Parameter
		raw     string
		wantErr bool
		want    string
	}{
		{ParamOpen, "12.5", false, "12.5"},
		{ParamOpen, "-1", true, "40"},
		{ParamOpen, "abc", true, "40"},
		{ParamOpen, "100001", true, "40"},
		{ParamCloseBuffer, "0", false, "0"},
		{ParamCloseBuffer, " 1.25 ", false, "1.25"},
		{ParamAnnual, "1095", false, "1095"},
		{ParamPoll, "5", false, "5"},
		{ParamPoll, "-5", true, "2"},
		{ParamPoll, "0", true, "2"},
		{ParamPoll, "2.5", true, "2"},
		{ParamPoll, "3601", true, "2"},
		{ParamRepeat, "0", false, "0"},
		{ParamRepeat, "29", true, "300"},
		{ParamRepeat, "600", false, "600"},
	}
	for _, tt := range tests {
		t.Run(string(tt.param)+"="+tt.raw, func(t *testing.T) {
			got, err := base.With(tt.param, tt.raw)
			if (err != nil) != tt.wantErr {
				t.Fatalf("With(%s, %q) err = %v, wantErr %v", tt.param, tt.raw, err, tt.wantErr)
			}
			if err != nil {
				var ve *ValidationError
				if !errors.As(err, &ve) {
					t.Fatalf("err = %T, want *ValidationError", err)
				}
				if ve.Field != string(tt.param) {
					t.Errorf("Field = %q, want %q", ve.Field, tt.param)
				}
			}
			if v := got.Value(tt.param); v != tt.want {
				t.Errorf("Value(%s) = %s, want %s", tt.param, v, tt.want)
			}
		})
	}

	if base.PollIntervalSeconds != 2 || !base.OpenThreshold.Equal(DefaultRuntimeConfig().OpenThreshold) {
		t.Fatalf("receiver was mutated: %+v", base)
	}
}

func TestParseParameter(t *testing.T) {
	for _, name := range []string{"open", "OPEN", "close_buffer", "poll", "repeat", "annual"} {
		if _, err := ParseParameter(name); err != nil {
			t.Errorf("ParseParameter(%q): %v", name, err)
		}
	}
	if _, err := ParseParameter("threshold"); !errors.Is(err, ErrValidation) {
		t.Errorf("ParseParameter(threshold) err = %v, want ErrValidation", err)
	}
}

func TestRuntimeConfigValidate(t *testing.T) {
	if err := DefaultRuntimeConfig().Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
	cfg := DefaultRuntimeConfig()
	cfg.PollIntervalSeconds = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected poll=0 to be rejected")
	}
}

func TestAmbiguousReferenceErrorIs(t *testing.T) {
	none := &AmbiguousReferenceError{Reason: ReasonNoPendingSignal, Want: PositionAwaitingOpen}
	many := &AmbiguousReferenceError{Reason: ReasonMustDisambiguate, Want: PositionAwaitingOpen, Candidates: []int64{3, 7}}

	if !errors.Is(none, ErrNoPendingSignal) || errors.Is(none, ErrMustDisambiguate) {
		t.Errorf("NoPendingSignal matched wrong sentinel")
	}
	if !errors.Is(many, ErrMustDisambiguate) || errors.Is(many, ErrNoPendingSignal) {
		t.Errorf("MustDisambiguate matched wrong sentinel")
	}
	if !errors.Is(many, ErrAmbiguousReference) {
		t.Errorf("errors.Is(many, ErrAmbiguousReference) = false")
	}
	if got, want := many.Error(), "2 positions are awaiting_open_confirmation, specify one of: 3, 7"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestTransientAndFatalClassification(t *testing.T) {
	cause := errors.New("boom")
	te := &TransientError{Op: "fetch", Err: cause}
	fe := &FatalError{Op: "fetch", Err: cause}

	if !IsTransient(te) || IsFatal(te) {
		t.Errorf("transient misclassified")
	}
	if !IsFatal(fe) || IsTransient(fe) {
		t.Errorf("fatal misclassified")
	}
	if !errors.Is(te, cause) {
		t.Errorf("transient does not unwrap to cause")
	}
}
