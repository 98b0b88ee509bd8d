package model

import "errors"

// Таксономия ошибок ядра. Вызывающий код проверяет их через errors.Is,
// транспортный слой переводит их в HTTP-коды.
var (
	// ErrNotFound — имя файла или путь не имеют записи в индексе или файла на диске.
	ErrNotFound = errors.New("не найдено")
	// ErrStorageFault — ошибка ввода-вывода при работе с файлами или индексом.
	ErrStorageFault = errors.New("ошибка хранилища")
	// ErrInvalidArgument — некорректные входные данные (например, интервал расписания).
	ErrInvalidArgument = errors.New("некорректный аргумент")
)
