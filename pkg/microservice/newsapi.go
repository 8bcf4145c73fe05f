package microservice

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/illmade-knight/go-newscache/pkg/news"
	"github.com/illmade-knight/go-newscache/pkg/refresh"
)

// ArticleReader is the read-side contract the API needs from the cache
// engine.
type ArticleReader interface {
	Read(ctx context.Context, topic refresh.Topic) ([]news.Article, error)
}

// NewsResponse is the wire shape of a successful news read.
type NewsResponse struct {
	Topic    string         `json:"topic"`
	Count    int            `json:"count"`
	Articles []news.Article `json:"articles"`
}

// TopicsResponse lists the configured topics clients may request.
type TopicsResponse struct {
	Topics []string `json:"topics"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// RegisterNewsRoutes registers the news API on the mux:
//
//	GET /api/news?topic=<id>  cached articles for one configured topic
//	GET /api/topics           the configured topic IDs
func RegisterNewsRoutes(mux *http.ServeMux, reader ArticleReader, topics []refresh.Topic, logger zerolog.Logger) {
	byID := make(map[string]refresh.Topic, len(topics))
	ids := make([]string, 0, len(topics))
	for _, topic := range topics {
		byID[topic.ID] = topic
		ids = append(ids, topic.ID)
	}
	handlerLogger := logger.With().Str("component", "NewsAPI").Logger()

	mux.HandleFunc("GET /api/news", func(w http.ResponseWriter, r *http.Request) {
		topicID := r.URL.Query().Get("topic")
		if topicID == "" {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "missing topic parameter"})
			return
		}
		topic, ok := byID[topicID]
		if !ok {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "unknown topic: " + topicID})
			return
		}

		articles, err := reader.Read(r.Context(), topic)
		if err != nil {
			handlerLogger.Error().Err(err).Str("topic", topicID).Msg("Read failed.")
			writeJSON(w, http.StatusBadGateway, errorResponse{Error: "no news available for topic: " + topicID})
			return
		}

		writeJSON(w, http.StatusOK, NewsResponse{
			Topic:    topicID,
			Count:    len(articles),
			Articles: articles,
		})
	})

	mux.HandleFunc("GET /api/topics", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, TopicsResponse{Topics: ids})
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
