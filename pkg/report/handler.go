package report

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// PlotPath serves the chart endpoint.
const PlotPath = "/plot"

type handler struct {
	reporter *Reporter
	measures *Measures
	logger   zerolog.Logger
}

func (h *handler) run(ctx context.Context, bucketName string) (*Result, error) {
	start := time.Now()
	res, err := h.reporter.Report(ctx, bucketName)
	h.measures.observe(err, time.Since(start).Seconds())
	if err != nil {
		h.logger.Error().Stack().Err(errors.WithStack(err)).Str("bucket", bucketName).Msg("Error in plotting")
	}
	return res, err
}

func (h *handler) servePlot(w http.ResponseWriter, r *http.Request) {
	res, err := h.run(r.Context(), r.URL.Query().Get("bucket"))
	if err != nil {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(err.Error()))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(res)
}

// Register mounts the plot endpoint on router.
func Register(router *mux.Router, reporter *Reporter, measures *Measures, logger zerolog.Logger) {
	h := &handler{reporter: reporter, measures: measures, logger: logger}
	router.HandleFunc(PlotPath, h.servePlot).Methods(http.MethodGet)
}

// NewHandler returns a router serving only the plot endpoint.
func NewHandler(reporter *Reporter, measures *Measures, logger zerolog.Logger) http.Handler {
	router := mux.NewRouter()
	Register(router, reporter, measures, logger)
	return router
}

// HandleAPIGateway is the Lambda proxy integration of the plot endpoint.
func HandleAPIGateway(reporter *Reporter, measures *Measures, logger zerolog.Logger) func(context.Context, events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	h := &handler{reporter: reporter, measures: measures, logger: logger}
	return func(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
		res, err := h.run(ctx, req.QueryStringParameters["bucket"])
		if err != nil {
			return events.APIGatewayProxyResponse{
				StatusCode: http.StatusInternalServerError,
				Headers:    map[string]string{"Content-Type": "text/plain; charset=utf-8"},
				Body:       err.Error(),
			}, nil
		}
		body, err := json.Marshal(res)
		if err != nil {
			return events.APIGatewayProxyResponse{}, err
		}
		return events.APIGatewayProxyResponse{
			StatusCode: http.StatusOK,
			Headers:    map[string]string{"Content-Type": "application/json"},
			Body:       string(body),
		}, nil
	}
}
