package logging

import (
	"fmt"
	"log/slog"
)

func Error(err error) slog.Attr {
	if err == nil {
		slog.Error("Going to log nil error")
		return slog.String("error", "<nil>")
	}
	return slog.String("error", err.Error())
}

func RelayID(id fmt.Stringer) slog.Attr {
	return slog.String("relayId", id.String())
}

func Handle(h fmt.Stringer) slog.Attr {
	return slog.String("handle", h.String())
}

func PipeID(id fmt.Stringer) slog.Attr {
	return slog.String("pipeId", id.String())
}

func Endpoint(endpoint string) slog.Attr {
	return slog.String("endpoint", endpoint)
}
