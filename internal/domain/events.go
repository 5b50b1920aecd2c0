package domain

// Типы исходящих сообщений live-канала.
const (
	EventConnectionEstablished    = "connection_established"
	EventPong                     = "pong"
	EventAppRegistrationConfirmed = "app_registration_confirmed"
	EventSessionStatusChanged     = "session_status_changed"
	EventFeedbackSubmitted        = "feedback_submitted"
	EventSessionExpired           = "session_expired"
	EventError                    = "error"
)

// Типы входящих сообщений от клиента.
const (
	MessagePing        = "ping"
	MessageAppRegister = "app_register"
)

// Envelope — общий формат сообщений live-канала.
type Envelope struct {
	Type      string `json:"type"`
	Data      any    `json:"data,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

// ConnectionEstablishedData подтверждает регистрацию соединения.
type ConnectionEstablishedData struct {
	SessionID  string `json:"sessionId"`
	ClientID   string `json:"clientId"`
	ServerTime string `json:"serverTime"`
}

// StatusChangedData описывает смену статуса сессии.
type StatusChangedData struct {
	SessionID string        `json:"sessionId"`
	OldStatus SessionStatus `json:"oldStatus"`
	NewStatus SessionStatus `json:"newStatus"`
	Timestamp string        `json:"timestamp"`
}

// FeedbackSubmittedData сообщает о полученной обратной связи.
type FeedbackSubmittedData struct {
	SessionID   string `json:"sessionId"`
	SubmittedBy string `json:"submittedBy"`
	Timestamp   string `json:"timestamp"`
	Preview     string `json:"preview"`
}

// SessionExpiredData сообщает об истечении сессии.
type SessionExpiredData struct {
	SessionID string `json:"sessionId"`
	Reason    string `json:"reason"`
	Timestamp string `json:"timestamp"`
}

// ErrorData описывает ошибку, отправляемую клиенту live-канала.
type ErrorData struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// AppRegisterData — данные регистрации мобильного клиента.
type AppRegisterData struct {
	Platform   string `json:"platform"`
	AppVersion string `json:"appVersion"`
}

// NotificationKind — вид события моста уведомлений.
type NotificationKind string

const (
	NotifyStatusChanged     NotificationKind = "status_changed"
	NotifyFeedbackSubmitted NotificationKind = "feedback_submitted"
	NotifySessionExpired    NotificationKind = "session_expired"
)

// Notification — конверт события, передаваемого из менеджера сессий
// в реестр соединений и внешние приёмники. Закрытый набор видов,
// у каждого — фиксированная форма данных.
type Notification struct {
	SessionID string           `json:"sessionId"`
	Kind      NotificationKind `json:"type"`
	Data      any              `json:"data"`
}
