package remote

import "testing"

func TestCodeClassification(t *testing.T) {
	tests := []struct {
		code      Code
		transient bool
		permanent bool
	}{
		{CodeOK, false, false},
		{CodeServiceDisconnected, true, false},
		{CodeServiceUnavailable, true, false},
		{CodeServiceTimeout, true, false},
		{CodeBillingUnavailable, false, true},
		{CodeFeatureNotSupported, false, true},
		{CodeDeveloperError, false, true},
		{CodeItemAlreadyOwned, false, false},
		{CodeUserCanceled, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.code.String(), func(t *testing.T) {
			if got := tt.code.Transient(); got != tt.transient {
				t.Errorf("expected transient %v, got %v", tt.transient, got)
			}
			if got := tt.code.Permanent(); got != tt.permanent {
				t.Errorf("expected permanent %v, got %v", tt.permanent, got)
			}
		})
	}
}

func TestParseCode(t *testing.T) {
	for c, name := range codeNames {
		got, ok := ParseCode(name)
		if !ok {
			t.Errorf("expected %q to parse", name)
			continue
		}
		if got != c {
			t.Errorf("expected %v, got %v", c, got)
		}
	}

	if _, ok := ParseCode("teapot"); ok {
		t.Error("expected unknown name to fail")
	}
}

func TestResultString(t *testing.T) {
	if got := OK.String(); got != "ok" {
		t.Errorf("expected ok, got %q", got)
	}
	if got := Failed(CodeError, "boom").String(); got != "error: boom" {
		t.Errorf("expected 'error: boom', got %q", got)
	}
	if got := Code(99).String(); got != "code(99)" {
		t.Errorf("expected code(99), got %q", got)
	}
}
