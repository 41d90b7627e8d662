package domainerrors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/suite"
)

// DomainErrorsSuite tests the domain error primitives.
//
// Justification: These are core error primitives used at every trust boundary.
// Unit tests ensure invariants like "wrapped domain errors preserve original code"
// and "errors.Is matches by code" are maintained.
type DomainErrorsSuite struct {
	suite.Suite
}

func TestDomainErrorsSuite(t *testing.T) {
	suite.Run(t, new(DomainErrorsSuite))
}

func (s *DomainErrorsSuite) TestErrorInterface() {
	s.Run("returns message when present", func() {
		err := &Error{Code: CodeAuthentication, Message: "session no longer valid"}
		s.Equal("session no longer valid", err.Error())
	})

	s.Run("returns code when message is empty", func() {
		err := &Error{Code: CodeAuthentication}
		s.Equal("authentication", err.Error())
	})
}

func (s *DomainErrorsSuite) TestUnwrap() {
	cause := errors.New("connection reset")
	err := Wrap(cause, CodeConnectivity, "refresh call failed")
	s.ErrorIs(err, cause)
}

func (s *DomainErrorsSuite) TestWrapPreservesExistingCode() {
	inner := New(CodeTimeout, "refresh deadline exceeded")
	wrapped := Wrap(inner, CodeInternal, "sync step failed")
	s.True(HasCode(wrapped, CodeTimeout))
	s.False(HasCode(wrapped, CodeInternal))
}

func (s *DomainErrorsSuite) TestIsMatchesByCode() {
	err := New(CodeRateLimit, "too many refresh attempts")
	s.ErrorIs(err, &Error{Code: CodeRateLimit})
	s.NotErrorIs(err, &Error{Code: CodeService})
}

func (s *DomainErrorsSuite) TestCodeOf() {
	s.Run("extracts the code from a domain error", func() {
		s.Equal(CodeConfiguration, CodeOf(New(CodeConfiguration, "missing client id")))
	})

	s.Run("returns unknown for plain errors", func() {
		s.Equal(CodeUnknown, CodeOf(errors.New("boom")))
	})

	s.Run("returns unknown for nil", func() {
		s.Equal(CodeUnknown, CodeOf(nil))
	})
}
