package driver

import (
	"errors"
	"testing"
)

func TestWaitPolicyString(t *testing.T) {
	cases := map[WaitPolicy]string{
		WaitLoad:        "load",
		WaitDOMContent:  "dom_content",
		WaitNetworkIdle: "network_idle",
		WaitNone:        "none",
	}
	for policy, want := range cases {
		if got := policy.String(); got != want {
			t.Errorf("WaitPolicy(%d).String() = %q, want %q", policy, got, want)
		}
	}
}

func TestCategorizeStatus(t *testing.T) {
	cases := []struct {
		code int
		want StatusCategory
	}{
		{200, StatusOK},
		{204, StatusOK},
		{301, StatusRedirect},
		{404, StatusClientError},
		{500, StatusServerError},
		{0, StatusUnknown},
	}
	for _, tc := range cases {
		if got := categorizeStatus(tc.code); got != tc.want {
			t.Errorf("categorizeStatus(%d) = %v, want %v", tc.code, got, tc.want)
		}
	}
}

func TestClassifyPlaywrightErr(t *testing.T) {
	cases := []struct {
		msg  string
		want Kind
	}{
		{"Timeout 30000ms exceeded", KindTimeout},
		{"Target closed", KindProtocolClosed},
		{"page.click: no node found matching selector", KindNotFound},
		{"element is detached from document", KindStale},
		{"some other failure", KindNavigation},
	}
	for _, tc := range cases {
		if got := classifyPlaywrightErr(errors.New(tc.msg)); got != tc.want {
			t.Errorf("classifyPlaywrightErr(%q) = %v, want %v", tc.msg, got, tc.want)
		}
	}
}

func TestErrorUnwrapAndIsKind(t *testing.T) {
	wrapped := errors.New("boom")
	err := newErr("click", KindTimeout, "#submit", wrapped)

	if !errors.Is(err, wrapped) {
		t.Fatalf("expected errors.Is to find wrapped error")
	}
	if !IsKind(err, KindTimeout) {
		t.Fatalf("expected IsKind(err, KindTimeout) to be true")
	}
	if IsKind(err, KindStale) {
		t.Fatalf("expected IsKind(err, KindStale) to be false")
	}
	if IsKind(wrapped, KindTimeout) {
		t.Fatalf("expected IsKind on a non-driver error to be false")
	}
}
