package api

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"citetrail/internal/faults"
)

func TestStatusForFault(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("chunk batch: %w", faults.ErrDuplicateOrder), http.StatusConflict},
		{fmt.Errorf("paper: %w", faults.ErrInvalidPaper), http.StatusConflict},
		{fmt.Errorf("delete: %w", faults.ErrPaperCited), http.StatusConflict},
		{fmt.Errorf("gateway: %w", faults.ErrRejectedInput), http.StatusUnprocessableEntity},
		{faults.Newf(faults.KindValidation, "empty query"), http.StatusBadRequest},
		{fmt.Errorf("chunk: %w", faults.ErrUnknownChunk), http.StatusNotFound},
		{fmt.Errorf("paper: %w", faults.ErrUnknownReference), http.StatusNotFound},
		{fmt.Errorf("gateway: %w", faults.ErrUpstreamUnavailable), http.StatusBadGateway},
		{fmt.Errorf("pdf: %w", faults.ErrNoExtractableText), http.StatusUnprocessableEntity},
		{fmt.Errorf("pdf: %w", faults.ErrUnparsablePDF), http.StatusUnprocessableEntity},
		{fmt.Errorf("some db failure"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, statusForFault(tc.err), "error: %v", tc.err)
	}
}

func TestToAPIErrorStableCodes(t *testing.T) {
	require.Equal(t, "CT-API-4004", toAPIError(http.StatusNotFound, fmt.Errorf("paper: %w", faults.ErrUnknownReference)).Code)
	require.Equal(t, "CT-API-4009", toAPIError(http.StatusConflict, fmt.Errorf("delete: %w", faults.ErrPaperCited)).Code)
	require.Equal(t, "CT-API-5020", toAPIError(http.StatusBadGateway, fmt.Errorf("gw: %w", faults.ErrUpstreamUnavailable)).Code)
	require.Equal(t, "CT-API-5000", toAPIError(http.StatusInternalServerError, fmt.Errorf("boom")).Code)
	require.Equal(t, "CT-DB-5002", toAPIError(http.StatusInternalServerError, fmt.Errorf("dial tcp 127.0.0.1:5432: connection refused")).Code)
}

func TestToAPIErrorDoesNotLeakInternals(t *testing.T) {
	got := toAPIError(http.StatusInternalServerError, fmt.Errorf("pq: secret table constraint violated"))
	require.NotContains(t, got.Message, "secret")
}

func TestToAPIErrorCitedPaperMessage(t *testing.T) {
	got := toAPIError(http.StatusConflict, fmt.Errorf("delete: %w", faults.ErrPaperCited))
	require.Contains(t, got.Message, "force")
}

func TestRequireUUIDRejectsMalformedIDs(t *testing.T) {
	require.NoError(t, requireUUID("paper_id", "11111111-2222-3333-4444-555555555555"))

	err := requireUUID("paper_id", "not-a-uuid")
	require.Error(t, err)
	require.Equal(t, faults.KindValidation, faults.KindOf(err))
	require.Equal(t, http.StatusBadRequest, statusForFault(err))
}

func TestMalformedPathIDIsBadRequestNotServerError(t *testing.T) {
	// A garbage id must be rejected before it reaches a uuid-typed SQL
	// parameter, where it would surface as a 500.
	s := &Server{log: zerolog.Nop()}
	req := httptest.NewRequest(http.MethodGet, "/syntheses/abc123", nil)
	rec := httptest.NewRecorder()
	s.handleSynthesis(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/papers/abc123", nil)
	rec = httptest.NewRecorder()
	s.handlePaperScoped(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
