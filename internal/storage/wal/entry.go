// Пакет wal — журнал намерений для операций Register и Remove.
//
// Перед изменением файла и индекса сервис записывает намерение
// ({tx_id}.wal.json в NAS_WAL_DIR). После завершения операции запись
// удаляется. Записи, оставшиеся после аварийной остановки, разбираются
// при старте: файл без записи индекса удаляется, запись индекса без
// файла удаляется.
package wal

import (
	"time"
)

// Operation — тип журналируемой операции.
type Operation string

const (
	// OpRegister — приём файла: запись на диск, затем вставка в индекс
	OpRegister Operation = "register"
	// OpRemove — удаление: файл с диска, затем запись индекса
	OpRemove Operation = "remove"
)

// Entry — намерение, сохранённое до начала операции.
type Entry struct {
	// TxID — идентификатор транзакции (UUID v4)
	TxID string `json:"tx_id"`

	Operation Operation `json:"operation"`

	// Filename — отображаемое имя файла
	Filename string `json:"filename"`

	// StoragePath — имя файла на диске, над которым выполняется операция
	StoragePath string `json:"storage_path"`

	// StartedAt — время начала (UTC)
	StartedAt time.Time `json:"started_at"`
}

const entrySuffix = ".wal.json"

// entryFileName возвращает имя файла журнала для транзакции.
func entryFileName(txID string) string {
	return txID + entrySuffix
}
