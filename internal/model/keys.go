package model

import "fmt"

// Ключи в хранилище составляются из идентификаторов через точку. Заказы и
// сессии живут в разных логических базах, поэтому одинаковая форма ключа
// клиента ("бар.пользователь") не приводит к коллизиям.

// CustomerOrderKey возвращает ключ заказа в клиентской форме.
func CustomerOrderKey(barID, userID int64) string {
	return fmt.Sprintf("%d.%d", barID, userID)
}

// StaffOrderKey возвращает ключ заказа, закреплённого за терминалом сотрудника.
func StaffOrderKey(merchantID, employeeID, customerID int64) string {
	return fmt.Sprintf("%d.%d.%d", merchantID, employeeID, customerID)
}

// CustomerSessionKey возвращает ключ привязки сессии клиента.
func CustomerSessionKey(barID, userID int64) string {
	return fmt.Sprintf("%d.%d", barID, userID)
}

// BartenderSessionKey возвращает ключ привязки сессии бармена.
func BartenderSessionKey(barID int64, bartenderID string) string {
	return fmt.Sprintf("%d.%s", barID, bartenderID)
}

// TerminalSessionKey возвращает ключ привязки сессии терминала.
func TerminalSessionKey(employeeID int64) string {
	return fmt.Sprintf("%d", employeeID)
}

// StaffScopePattern возвращает шаблон сканирования для пула барменов бара.
// Идентификаторы барменов состоят только из букв, поэтому шаблон отсекает
// числовые ключи сессий клиентов того же бара.
func StaffScopePattern(barID int64) string {
	return fmt.Sprintf("%d.[a-zA-Z]*", barID)
}

// BarOrdersPattern возвращает шаблон сканирования всех заказов бара.
func BarOrdersPattern(barID int64) string {
	return fmt.Sprintf("%d.*", barID)
}
