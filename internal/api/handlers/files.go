// files.go — HTTP-обработчики файловых операций: загрузка, список,
// скачивание, удаление.
package handlers

import (
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path/filepath"

	"github.com/go-chi/chi/v5"

	"github.com/bigkaa/goartstore/nas-service/internal/api/errors"
	"github.com/bigkaa/goartstore/nas-service/internal/domain/model"
)

// multipartOverhead — запас на заголовки multipart сверх MaxFileSize.
const multipartOverhead = 1 << 20

var errFileTooLarge = stderrors.New("файл превышает допустимый размер")

// sizeLimitReader возвращает errFileTooLarge, как только прочитано
// больше limit байт.
type sizeLimitReader struct {
	r         io.Reader
	remaining int64
}

func (l *sizeLimitReader) Read(p []byte) (int, error) {
	if l.remaining < 0 {
		return 0, errFileTooLarge
	}
	if int64(len(p)) > l.remaining+1 {
		p = p[:l.remaining+1]
	}
	n, err := l.r.Read(p)
	l.remaining -= int64(n)
	if l.remaining < 0 {
		return n, errFileTooLarge
	}
	return n, err
}

// FilesHandler — обработчик файловых endpoints.
type FilesHandler struct {
	catalog     Catalog
	maxFileSize int64
	logger      *slog.Logger
}

// NewFilesHandler создаёт обработчик файловых endpoints.
func NewFilesHandler(catalog Catalog, maxFileSize int64, logger *slog.Logger) *FilesHandler {
	return &FilesHandler{
		catalog:     catalog,
		maxFileSize: maxFileSize,
		logger:      logger.With(slog.String("component", "files_handler")),
	}
}

// fileListResponse — ответ GET /api/v1/files.
type fileListResponse struct {
	Files []*model.FileRecord `json:"files"`
	Total int                 `json:"total"`
}

// UploadFile обрабатывает POST /api/v1/files.
// Multipart form, поле file. Содержимое передаётся в каталог потоком,
// без буферизации формы целиком.
func (h *FilesHandler) UploadFile(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxFileSize+multipartOverhead)

	mr, err := r.MultipartReader()
	if err != nil {
		errors.ValidationError(w, fmt.Sprintf("Ожидается multipart/form-data: %s", err.Error()))
		return
	}

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			errors.ValidationError(w, "Поле 'file' обязательно")
			return
		}
		if err != nil {
			h.writeUploadError(w, err)
			return
		}

		if part.FormName() != "file" {
			part.Close()
			continue
		}

		filename := part.FileName()
		if filename == "" {
			part.Close()
			errors.ValidationError(w, "Не указано имя файла")
			return
		}

		rec, err := h.catalog.Register(r.Context(), filename, &sizeLimitReader{r: part, remaining: h.maxFileSize})
		part.Close()
		if err != nil {
			h.writeUploadError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, rec)
		return
	}
}

// writeUploadError различает превышение лимита размера и прочие ошибки.
func (h *FilesHandler) writeUploadError(w http.ResponseWriter, err error) {
	var maxErr *http.MaxBytesError
	if stderrors.Is(err, errFileTooLarge) || stderrors.As(err, &maxErr) {
		errors.FileTooLarge(w, fmt.Sprintf("Размер файла превышает максимум %d байт", h.maxFileSize))
		return
	}
	errors.WriteDomainError(w, err)
}

// ListFiles обрабатывает GET /api/v1/files.
func (h *FilesHandler) ListFiles(w http.ResponseWriter, r *http.Request) {
	records, err := h.catalog.List(r.Context())
	if err != nil {
		errors.WriteDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, fileListResponse{
		Files: records,
		Total: len(records),
	})
}

// DownloadFile обрабатывает GET /api/v1/files/{filename}/download.
// http.ServeContent обрабатывает Range, If-Modified-Since и Content-Length.
func (h *FilesHandler) DownloadFile(w http.ResponseWriter, r *http.Request) {
	filename := chi.URLParam(r, "filename")

	file, rec, err := h.catalog.Open(r.Context(), filename)
	if err != nil {
		errors.WriteDomainError(w, err)
		return
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		h.logger.Error("Ошибка получения stat файла",
			slog.String("storage_path", rec.StoragePath),
			slog.String("error", err.Error()),
		)
		errors.StorageFault(w, "Ошибка чтения файла")
		return
	}

	w.Header().Set("Content-Type", contentTypeFor(rec.Filename))
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{
		"filename": rec.Filename,
	}))
	w.Header().Set("Accept-Ranges", "bytes")

	http.ServeContent(w, r, rec.Filename, stat.ModTime(), file)
}

// DeleteFile обрабатывает DELETE /api/v1/files/{filename}.
func (h *FilesHandler) DeleteFile(w http.ResponseWriter, r *http.Request) {
	filename := chi.URLParam(r, "filename")

	if err := h.catalog.Remove(r.Context(), filename); err != nil {
		errors.WriteDomainError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// contentTypeFor определяет MIME-тип по расширению имени файла.
func contentTypeFor(filename string) string {
	if ct := mime.TypeByExtension(filepath.Ext(filename)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
