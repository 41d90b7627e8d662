package errclass

// Language selects the locale for user-facing messages.
type Language string

const (
	LanguageEnglish Language = "en"
	LanguageSpanish Language = "es"
)

type message struct {
	text     string
	guidance string
}

// Catalog of user-facing copy per type and language. Every entry must start
// with a capital letter, end in '.' or '!', stay within 6..199 characters,
// avoid technical jargon, and contain an actionable verb.
var messages = map[Language]map[Type]message{
	LanguageEnglish: {
		TypeConnectivity: {
			text:     "Check your internet connection and try again.",
			guidance: "Turn on Wi-Fi or mobile data, then retry the last action.",
		},
		TypeTimeout: {
			text:     "The request took too long. Please try again.",
			guidance: "Wait a moment and retry; move to a stronger connection if it keeps happening.",
		},
		TypeAuthentication: {
			text:     "Your session is no longer valid. Please sign in again.",
			guidance: "Sign in with your account to continue where you left off.",
		},
		TypeValidation: {
			text:     "Some of the information looks incorrect. Please review it.",
			guidance: "Check the highlighted fields and submit the form again.",
		},
		TypeRateLimit: {
			text:     "Too many attempts. Please wait a moment before trying again.",
			guidance: "Pause for a minute, then retry once.",
		},
		TypeConfiguration: {
			text:     "The app is not set up correctly. Please contact support.",
			guidance: "Reach out to support so the setup issue can be fixed.",
		},
		TypeService: {
			text:     "The service is temporarily unavailable. Please try again shortly.",
			guidance: "Retry in a few minutes; the issue is on our side.",
		},
		TypeUnknown: {
			text:     "An unexpected error occurred. Please try again.",
			guidance: "Retry the action; contact support if the problem continues.",
		},
	},
	LanguageSpanish: {
		TypeConnectivity: {
			text:     "Comprueba tu conexion a internet e intentalo de nuevo.",
			guidance: "Activa el Wi-Fi o los datos moviles y repite la ultima accion.",
		},
		TypeTimeout: {
			text:     "La solicitud tardo demasiado. Intentalo de nuevo.",
			guidance: "Espera un momento y vuelve a intentarlo con mejor conexion.",
		},
		TypeAuthentication: {
			text:     "Tu sesion ya no es valida. Inicia sesion de nuevo.",
			guidance: "Inicia sesion con tu cuenta para continuar donde lo dejaste.",
		},
		TypeValidation: {
			text:     "Parte de la informacion parece incorrecta. Revisala, por favor.",
			guidance: "Revisa los campos marcados y envia el formulario otra vez.",
		},
		TypeRateLimit: {
			text:     "Demasiados intentos. Espera un momento antes de intentarlo de nuevo.",
			guidance: "Haz una pausa de un minuto y vuelve a intentarlo una vez.",
		},
		TypeConfiguration: {
			text:     "La aplicacion no esta configurada correctamente. Contacta con soporte.",
			guidance: "Contacta con soporte para corregir el problema de configuracion.",
		},
		TypeService: {
			text:     "El servicio no esta disponible temporalmente. Intentalo en unos minutos.",
			guidance: "Vuelve a intentarlo en unos minutos; el problema es nuestro.",
		},
		TypeUnknown: {
			text:     "Ocurrio un error inesperado. Intentalo de nuevo.",
			guidance: "Repite la accion y contacta con soporte si el problema continua.",
		},
	},
}

func messageFor(lang Language, t Type) message {
	byType, ok := messages[lang]
	if !ok {
		byType = messages[LanguageEnglish]
	}
	if msg, ok := byType[t]; ok {
		return msg
	}
	return byType[TypeUnknown]
}
