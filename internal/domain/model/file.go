// Пакет model — доменные модели NAS-сервиса.
// FileRecord — запись индекса метаданных, HealthStatus — результат
// проверки состояния файлового хранилища.
package model

import (
	"time"
)

// FileRecord — метаданные загруженного файла. Соответствует строке
// таблицы files в индексе метаданных.
//
// Запись создаётся при приёме файла в хранилище и никогда не
// изменяется на месте: удаляется только вместе с файлом на диске.
type FileRecord struct {
	// ID — суррогатный ключ, монотонно назначается индексом
	ID int64 `json:"id"`

	// Filename — отображаемое имя файла (не обязательно уникальное)
	Filename string `json:"filename"`

	// StoragePath — имя файла на диске относительно корня FileStore.
	// Формат: {name}_{timestamp}_{uuid}.{ext}, уникален для каждой записи.
	StoragePath string `json:"storage_path"`

	// UploadedAt — дата и время загрузки (UTC, точность — секунда)
	UploadedAt time.Time `json:"uploaded_at"`
}

// HealthStatus — результат проверки файлового хранилища.
// Degraded — не ошибка, а сообщаемое состояние.
type HealthStatus struct {
	// Healthy — true, если проба записи/чтения/удаления прошла успешно
	Healthy bool `json:"healthy"`
	// Reason — человекочитаемая причина деградации (пусто для Healthy)
	Reason string `json:"reason,omitempty"`
	// CheckedAt — время выполнения пробы (UTC)
	CheckedAt time.Time `json:"checked_at"`
}

// Healthy возвращает статус успешной проверки.
func Healthy(at time.Time) HealthStatus {
	return HealthStatus{Healthy: true, CheckedAt: at}
}

// Degraded возвращает статус деградации с указанной причиной.
func Degraded(reason string, at time.Time) HealthStatus {
	return HealthStatus{Healthy: false, Reason: reason, CheckedAt: at}
}

// String возвращает краткое описание статуса для логов и UI.
func (h HealthStatus) String() string {
	if h.Healthy {
		return "healthy"
	}
	return "degraded: " + h.Reason
}
