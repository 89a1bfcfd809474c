// Package model содержит доменные сущности сервиса координации заказов.
package model

import "time"

// OrderStatus описывает статус заказа в его жизненном цикле.
type OrderStatus string

const (
	OrderStatusUnready   OrderStatus = "unready"
	OrderStatusReady     OrderStatus = "ready"
	OrderStatusArrived   OrderStatus = "arrived"
	OrderStatusDelivered OrderStatus = "delivered"
	OrderStatusCanceled  OrderStatus = "canceled"
)

// IsTerminal сообщает, является ли статус конечным: из конечного статуса
// дальнейшие переходы не допускаются.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCanceled
}

// Drink описывает одну позицию заказа.
type Drink struct {
	DrinkID     int64  `json:"drinkId"`
	Name        string `json:"name,omitempty"`
	Quantity    int    `json:"quantity"`
	PaymentType string `json:"paymentType"`
	SizeType    string `json:"sizeType"`
}

// Order описывает заказ клиента в баре. Денежные суммы хранятся в копейках.
// Пустое поле Claimer означает, что заказ ещё никем не взят в работу.
type Order struct {
	BarID         int64       `json:"barId"`
	UserID        int64       `json:"userId"`
	EmployeeID    int64       `json:"employeeId,omitempty"`
	Drinks        []Drink     `json:"drinks"`
	RegularPrice  int64       `json:"regularPrice"`
	PointPrice    int64       `json:"pointPrice"`
	Gratuity      int64       `json:"gratuity"`
	ServiceFee    int64       `json:"serviceFee"`
	Tax           int64       `json:"tax"`
	InAppPayments bool        `json:"inAppPayments"`
	Status        OrderStatus `json:"status"`
	Claimer       string      `json:"claimer"`
	Timestamp     time.Time   `json:"timestamp"`
}

// Session представляет привязку бизнес-идентичности к живому соединению.
type Session struct {
	SessionID string `json:"sessionId"`
	Active    bool   `json:"active"`
}
