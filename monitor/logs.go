package monitor

import (
	"errors"
	"io"
	"net/http"
	"os"
	"strconv"

	"permit-workflow-api/config"

	"github.com/gin-gonic/gin"
)

const (
	defaultTailBytes = 64 << 10
	maxTailBytes     = 4 << 20
)

// LogsHandler serves the tail of the application log file. ?bytes= picks how much, capped at 4 MiB.
func LogsHandler(path string) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := int64(defaultTailBytes)
		if v, err := strconv.ParseInt(c.Query("bytes"), 10, 64); err == nil && v > 0 {
			limit = v
		}
		if limit > maxTailBytes {
			limit = maxTailBytes
		}

		data, err := tail(path, limit)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "log file not found"})
				return
			}
			config.Log.WithError(err).Error("Unable to read log")
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Unable to read log"})
			return
		}
		c.Data(http.StatusOK, "text/plain; charset=utf-8", data)
	}
}

func tail(path string, limit int64) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	offset := info.Size() - limit
	if offset < 0 {
		offset = 0
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return nil, err
	}
	return io.ReadAll(f)
}
