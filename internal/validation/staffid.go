// Package validation содержит функции валидации входных данных.
package validation

// IsValidStaffID проверяет идентификатор сотрудника: допускаются только
// латинские буквы. Числовые идентификаторы зарезервированы за клиентами,
// поэтому смешанные или пустые значения отклоняются.
func IsValidStaffID(id string) bool {
	if id == "" {
		return false
	}

	for i := 0; i < len(id); i++ {
		c := id[i]
		if (c < 'a' || c > 'z') && (c < 'A' || c > 'Z') {
			return false
		}
	}

	return true
}
