package errclass

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"unicode"

	"github.com/stretchr/testify/suite"

	dErrors "authcore/pkg/domain-errors"
)

type fakeConnectivity struct{ connected bool }

func (f *fakeConnectivity) IsConnected() bool { return f.connected }

type codedError struct{ code string }

func (e *codedError) Error() string     { return e.code }
func (e *codedError) ErrorCode() string { return e.code }

type statusError struct{ status int }

func (e *statusError) Error() string   { return fmt.Sprintf("status %d", e.status) }
func (e *statusError) StatusCode() int { return e.status }

type ClassifierSuite struct {
	suite.Suite
	connectivity *fakeConnectivity
	classifier   *Classifier
}

func (s *ClassifierSuite) SetupTest() {
	s.connectivity = &fakeConnectivity{connected: true}
	s.classifier = New(WithConnectivity(s.connectivity))
}

func TestClassifierSuite(t *testing.T) {
	suite.Run(t, new(ClassifierSuite))
}

func (s *ClassifierSuite) TestOfflineOverridesEverything() {
	s.connectivity.connected = false
	for _, err := range []error{
		&codedError{code: "NotAuthorizedException"},
		&statusError{status: 500},
		errors.New("validation failed"),
		nil,
	} {
		c := s.classifier.Classify(err)
		s.Equal(TypeConnectivity, c.Type)
		s.True(c.Retryable)
	}
}

func (s *ClassifierSuite) TestStatusCodePrecedence() {
	cases := map[int]Type{
		401: TypeAuthentication,
		403: TypeAuthentication,
		408: TypeTimeout,
		429: TypeRateLimit,
		500: TypeService,
		502: TypeService,
		504: TypeService,
		422: TypeValidation,
	}
	for status, want := range cases {
		c := s.classifier.Classify(&statusError{status: status})
		s.Equal(want, c.Type, "status %d", status)
	}
}

func (s *ClassifierSuite) TestCognitoCodes() {
	s.Run("NotAuthorizedException is terminal", func() {
		c := s.classifier.Classify(&codedError{code: "NotAuthorizedException"})
		s.Equal(TypeAuthentication, c.Type)
		s.False(c.Retryable)
		s.Equal(StrategyNoRetry, c.RetryStrategy)
	})

	s.Run("UserNotFoundException stays retryable", func() {
		c := s.classifier.Classify(&codedError{code: "UserNotFoundException"})
		s.Equal(TypeAuthentication, c.Type)
		s.True(c.Retryable)
	})

	s.Run("validation codes carry medium severity", func() {
		c := s.classifier.Classify(&codedError{code: "InvalidParameterException"})
		s.Equal(TypeValidation, c.Type)
		s.Equal(SeverityMedium, c.Severity)
		s.True(c.Retryable)
	})

	s.Run("configuration codes are critical and terminal", func() {
		c := s.classifier.Classify(&codedError{code: "InvalidUserPoolConfigurationException"})
		s.Equal(TypeConfiguration, c.Type)
		s.Equal(SeverityCritical, c.Severity)
		s.False(c.Retryable)
	})
}

func (s *ClassifierSuite) TestDomainErrorCodes() {
	c := s.classifier.Classify(dErrors.New(dErrors.CodeTimeout, "refresh deadline exceeded"))
	s.Equal(TypeTimeout, c.Type)
}

func (s *ClassifierSuite) TestFreeTextMessages() {
	cases := map[string]Type{
		"Network request failed":         TypeConnectivity,
		"request timed out":              TypeTimeout,
		"user is not authorized":         TypeAuthentication,
		"rate limit exceeded, slow down": TypeRateLimit,
		"service unavailable right now":  TypeService,
	}
	for msg, want := range cases {
		c := s.classifier.Classify(errors.New(msg))
		s.Equal(want, c.Type, "message %q", msg)
	}
}

func (s *ClassifierSuite) TestUnknownFallbackNeverFails() {
	for _, err := range []error{nil, errors.New(""), errors.New("zzz qqq")} {
		c := s.classifier.Classify(err)
		s.Equal(TypeUnknown, c.Type)
		s.True(c.Retryable)
		s.Contains(strings.ToLower(c.UserMessage), "unexpected error")
		s.NotEmpty(c.Guidance)
	}
}

func (s *ClassifierSuite) TestSpanishUnknownMessage() {
	s.classifier.UpdateConfig(Partial{Language: ptr(LanguageSpanish)})
	c := s.classifier.Classify(errors.New("zzz"))
	s.Contains(strings.ToLower(c.UserMessage), "error inesperado")
}

func (s *ClassifierSuite) TestUpdateConfigRoundTrip() {
	s.Equal(LanguageEnglish, s.classifier.GetConfig().Language)
	s.classifier.UpdateConfig(Partial{Language: ptr(LanguageSpanish)})
	s.Equal(LanguageSpanish, s.classifier.GetConfig().Language)
	s.classifier.UpdateConfig(Partial{})
	s.Equal(LanguageSpanish, s.classifier.GetConfig().Language)
}

// Every catalog entry must read like product copy: capitalized, terminated,
// bounded length, and free of technical jargon.
func (s *ClassifierSuite) TestMessageCatalogLexicalConstraints() {
	jargon := []string{"exception", "null", "stack"}
	for lang, byType := range messages {
		for t, msg := range byType {
			label := fmt.Sprintf("%s/%s", lang, t)
			for _, text := range []string{msg.text, msg.guidance} {
				s.GreaterOrEqual(len(text), 6, label)
				s.LessOrEqual(len(text), 199, label)
				runes := []rune(text)
				s.True(unicode.IsUpper(runes[0]), label)
				last := runes[len(runes)-1]
				s.True(last == '.' || last == '!', label)
				for _, word := range jargon {
					s.NotContains(strings.ToLower(text), word, label)
				}
			}
		}
	}
}

func ptr[T any](v T) *T { return &v }
