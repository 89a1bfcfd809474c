package model

// Типы исходящих сообщений. По этому дискриминатору получатель определяет,
// как обрабатывать содержимое, не разбирая его вслепую.
const (
	MessageUpdate  = "update"
	MessageCreate  = "create"
	MessageDelete  = "delete"
	MessageRefresh = "refresh"
	MessageError   = "error"
	MessageInfo    = "info"
)

// Envelope описывает исходящее сообщение для живого соединения.
type Envelope struct {
	MessageType string `json:"messageType"`
	Data        any    `json:"data"`
	Message     string `json:"message"`
}

// OrdersResponse содержит пакет заказов, возвращаемый по запросу refresh.
type OrdersResponse struct {
	Orders []Order `json:"orders"`
}

// ErrorResponse описывает короткий ответ об ошибке разбора входящего сообщения.
type ErrorResponse struct {
	Error string `json:"error"`
}
