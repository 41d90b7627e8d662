package errclass

import (
	"errors"
	"strings"
	"sync"
	"time"

	dErrors "authcore/pkg/domain-errors"
)

// ConnectivityState reports whether the device currently has a usable
// network path. Offline is the strongest classification signal.
type ConnectivityState interface {
	IsConnected() bool
}

// StatusCoder is implemented by failures carrying an HTTP status code.
type StatusCoder interface {
	StatusCode() int
}

// Coder is implemented by failures carrying a provider error code
// (Cognito-style exception names).
type Coder interface {
	ErrorCode() string
}

// Config is the runtime-updatable classifier configuration.
type Config struct {
	Language Language
}

// Partial updates individual Config fields; nil fields are left untouched.
type Partial struct {
	Language *Language
}

// Classifier turns raw failures into typed classifications. Classification
// never fails: unparseable input maps to the unknown profile with a generic
// localized message.
type Classifier struct {
	mu           sync.RWMutex
	language     Language
	connectivity ConnectivityState
}

type Option func(*Classifier)

func WithLanguage(lang Language) Option {
	return func(c *Classifier) {
		if lang != "" {
			c.language = lang
		}
	}
}

func WithConnectivity(state ConnectivityState) Option {
	return func(c *Classifier) {
		c.connectivity = state
	}
}

func New(opts ...Option) *Classifier {
	c := &Classifier{language: LanguageEnglish}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// UpdateConfig applies the non-nil fields of the partial config.
func (c *Classifier) UpdateConfig(partial Partial) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if partial.Language != nil && *partial.Language != "" {
		c.language = *partial.Language
	}
}

func (c *Classifier) GetConfig() Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Config{Language: c.language}
}

// Retry profiles per type. Messages are attached separately per language.
var profiles = map[Type]Classification{
	TypeConnectivity: {
		Type: TypeConnectivity, Severity: SeverityHigh, Retryable: true,
		RetryStrategy: StrategyExponentialBackoff, MaxRetries: 3, BaseDelay: time.Second,
	},
	TypeTimeout: {
		Type: TypeTimeout, Severity: SeverityMedium, Retryable: true,
		RetryStrategy: StrategyLinearBackoff, MaxRetries: 2, BaseDelay: 2 * time.Second,
	},
	TypeAuthentication: {
		Type: TypeAuthentication, Severity: SeverityHigh, Retryable: false,
		RetryStrategy: StrategyNoRetry, MaxRetries: 0, BaseDelay: 0,
	},
	TypeValidation: {
		Type: TypeValidation, Severity: SeverityMedium, Retryable: true,
		RetryStrategy: StrategyImmediate, MaxRetries: 1, BaseDelay: 0,
	},
	TypeRateLimit: {
		Type: TypeRateLimit, Severity: SeverityMedium, Retryable: true,
		RetryStrategy: StrategyExponentialBackoff, MaxRetries: 2, BaseDelay: 5 * time.Second,
	},
	TypeConfiguration: {
		Type: TypeConfiguration, Severity: SeverityCritical, Retryable: false,
		RetryStrategy: StrategyNoRetry, MaxRetries: 0, BaseDelay: 0,
	},
	TypeService: {
		Type: TypeService, Severity: SeverityHigh, Retryable: true,
		RetryStrategy: StrategyExponentialBackoff, MaxRetries: 3, BaseDelay: time.Second,
	},
	TypeUnknown: {
		Type: TypeUnknown, Severity: SeverityHigh, Retryable: true,
		RetryStrategy: StrategyLinearBackoff, MaxRetries: 1, BaseDelay: time.Second,
	},
}

// Cognito-style exception names mapped to failure types.
var codeTable = map[string]Type{
	"NotAuthorizedException":                TypeAuthentication,
	"UserNotFoundException":                 TypeAuthentication,
	"UserNotConfirmedException":             TypeAuthentication,
	"PasswordResetRequiredException":        TypeAuthentication,
	"TokenRefreshException":                 TypeAuthentication,
	"SessionExpired":                        TypeAuthentication,
	"InvalidParameterException":             TypeValidation,
	"InvalidPasswordException":              TypeValidation,
	"CodeMismatchException":                 TypeValidation,
	"ExpiredCodeException":                  TypeValidation,
	"TooManyRequestsException":              TypeRateLimit,
	"LimitExceededException":                TypeRateLimit,
	"ThrottlingException":                   TypeRateLimit,
	"NetworkError":                          TypeConnectivity,
	"TimeoutError":                          TypeTimeout,
	"RequestTimeout":                        TypeTimeout,
	"ResourceNotFoundException":             TypeConfiguration,
	"InvalidUserPoolConfigurationException": TypeConfiguration,
	"InternalErrorException":                TypeService,
	"ServiceUnavailable":                    TypeService,
}

// Authentication codes that stay retryable: transient user-lookup races
// rather than credential problems.
var retryableAuthCodes = map[string]bool{
	"UserNotFoundException":     true,
	"UserNotConfirmedException": true,
}

// Classify maps a raw failure into a typed classification. Precedence:
// offline state, explicit status code, explicit error code, free-text
// message, unknown fallback.
func (c *Classifier) Classify(err error) Classification {
	c.mu.RLock()
	lang := c.language
	connectivity := c.connectivity
	c.mu.RUnlock()

	if connectivity != nil && !connectivity.IsConnected() {
		return c.finish(lang, TypeConnectivity, "")
	}
	if err == nil {
		return c.finish(lang, TypeUnknown, "")
	}

	if t, ok := typeFromStatus(err); ok {
		return c.finish(lang, t, "")
	}
	if t, code, ok := typeFromCode(err); ok {
		return c.finish(lang, t, code)
	}
	if t, ok := typeFromMessage(err.Error()); ok {
		return c.finish(lang, t, "")
	}
	return c.finish(lang, TypeUnknown, "")
}

func (c *Classifier) finish(lang Language, t Type, code string) Classification {
	classification := profiles[t]
	if t == TypeAuthentication && retryableAuthCodes[code] {
		classification.Retryable = true
		classification.RetryStrategy = StrategyImmediate
		classification.MaxRetries = 1
	}
	msg := messageFor(lang, t)
	classification.UserMessage = msg.text
	classification.Guidance = msg.guidance
	return classification
}

func typeFromStatus(err error) (Type, bool) {
	var sc StatusCoder
	if !errors.As(err, &sc) {
		return "", false
	}
	switch status := sc.StatusCode(); {
	case status == 401 || status == 403:
		return TypeAuthentication, true
	case status == 429:
		return TypeRateLimit, true
	case status == 408:
		return TypeTimeout, true
	case status >= 500 && status <= 504:
		return TypeService, true
	case status == 400 || status == 422:
		return TypeValidation, true
	default:
		return "", false
	}
}

func typeFromCode(err error) (Type, string, bool) {
	code := ""
	var coder Coder
	if errors.As(err, &coder) {
		code = coder.ErrorCode()
	}
	if code == "" {
		if domainCode := dErrors.CodeOf(err); domainCode != dErrors.CodeUnknown {
			if t, ok := typeFromDomainCode(domainCode); ok {
				return t, "", true
			}
		}
		return "", "", false
	}
	if t, ok := codeTable[code]; ok {
		return t, code, true
	}
	return "", "", false
}

func typeFromDomainCode(code dErrors.Code) (Type, bool) {
	switch code {
	case dErrors.CodeConnectivity:
		return TypeConnectivity, true
	case dErrors.CodeTimeout:
		return TypeTimeout, true
	case dErrors.CodeAuthentication:
		return TypeAuthentication, true
	case dErrors.CodeValidation:
		return TypeValidation, true
	case dErrors.CodeRateLimit:
		return TypeRateLimit, true
	case dErrors.CodeConfiguration:
		return TypeConfiguration, true
	case dErrors.CodeService:
		return TypeService, true
	default:
		return "", false
	}
}

var messageSignals = []struct {
	keywords []string
	t        Type
}{
	{[]string{"offline", "network", "connection", "internet", "dns"}, TypeConnectivity},
	{[]string{"timeout", "timed out", "deadline exceeded"}, TypeTimeout},
	{[]string{"not authorized", "unauthorized", "forbidden", "token expired", "session expired"}, TypeAuthentication},
	{[]string{"too many requests", "rate limit", "throttl"}, TypeRateLimit},
	{[]string{"misconfigur", "configuration"}, TypeConfiguration},
	{[]string{"invalid", "validation", "malformed"}, TypeValidation},
	{[]string{"unavailable", "internal server", "bad gateway"}, TypeService},
}

func typeFromMessage(msg string) (Type, bool) {
	lowered := strings.ToLower(msg)
	for _, signal := range messageSignals {
		for _, keyword := range signal.keywords {
			if strings.Contains(lowered, keyword) {
				return signal.t, true
			}
		}
	}
	return "", false
}
