package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"lirashield/pkg/lirashield"
)

// maxUploadSize bounds CSV import bodies.
const maxUploadSize = 10 << 20

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) getTransactions(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit, offset := normalizeLimitOffset(parseIntDefault(query.Get("limit"), 100), parseInt(query.Get("offset")))
	filter := lirashield.TransactionFilter{
		Ticker:          query.Get("ticker"),
		AssetType:       query.Get("asset_type"),
		TransactionType: query.Get("transaction_type"),
		StartDate:       query.Get("start_date"),
		EndDate:         query.Get("end_date"),
		Limit:           limit,
		Offset:          offset,
	}
	result, err := h.core.GetTransactions(filter)
	if err != nil {
		writeErrorResponse(w, r, http.StatusInternalServerError, err)
		return
	}
	writeSuccess(w, transactionsResponse{Items: result, Limit: limit, Offset: offset})
}

func (h *handler) addTransaction(w http.ResponseWriter, r *http.Request) {
	var payload lirashield.AddTransactionRequest
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	id, err := h.core.AddTransaction(payload)
	if err != nil {
		writeErrorResponse(w, r, http.StatusBadRequest, err)
		return
	}
	writeSuccess(w, map[string]any{"id": id})
}

func (h *handler) getTransaction(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	tx, err := h.core.GetTransaction(id)
	if err != nil {
		writeErrorResponse(w, r, http.StatusInternalServerError, err)
		return
	}
	if tx == nil {
		writeError(w, http.StatusNotFound, "transaction not found")
		return
	}
	writeSuccess(w, tx)
}

func (h *handler) deleteTransaction(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	deleted, err := h.core.DeleteTransaction(id)
	if err != nil {
		writeErrorResponse(w, r, http.StatusInternalServerError, err)
		return
	}
	if !deleted {
		writeError(w, http.StatusNotFound, "transaction not found")
		return
	}
	writeSuccessWithMessage(w, "deleted", map[string]int64{"id": id})
}

func (h *handler) getTickers(w http.ResponseWriter, r *http.Request) {
	tickers, err := h.core.Tickers()
	if err != nil {
		writeErrorResponse(w, r, http.StatusInternalServerError, err)
		return
	}
	writeSuccess(w, tickers)
}

func (h *handler) getUSDRates(w http.ResponseWriter, r *http.Request) {
	rates, err := h.core.ListUSDRates(parseInt(r.URL.Query().Get("limit")))
	if err != nil {
		writeErrorResponse(w, r, http.StatusInternalServerError, err)
		return
	}
	writeSuccess(w, rates)
}

func (h *handler) upsertUSDRate(w http.ResponseWriter, r *http.Request) {
	var payload usdRatePayload
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	date, err := lirashield.ParseDate(payload.Date)
	if err != nil {
		writeErrorResponse(w, r, http.StatusBadRequest, err)
		return
	}
	if err := h.core.UpsertUSDRate(date, payload.Rate, payload.Source, payload.Notes); err != nil {
		writeErrorResponse(w, r, http.StatusBadRequest, err)
		return
	}
	writeSuccessWithMessage(w, "saved", map[string]any{"date": date, "rate": payload.Rate})
}

// getUSDRate resolves the rate for ?date=, with exact=1 disabling the earlier-day fallback
// and auto_fetch=1 going through the live resolver.
func (h *handler) getUSDRate(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	date, err := lirashield.ParseDate(query.Get("date"))
	if err != nil {
		writeErrorResponse(w, r, http.StatusBadRequest, err)
		return
	}
	var rate *float64
	if parseBool(query.Get("auto_fetch"), false) {
		rate, err = h.core.RateFor(r.Context(), date, true)
	} else {
		rate, err = h.core.GetUSDRate(date, parseBool(query.Get("exact"), false))
	}
	if err != nil {
		writeErrorResponse(w, r, http.StatusInternalServerError, err)
		return
	}
	if rate == nil {
		writeErrorResponse(w, r, http.StatusNotFound,
			lirashield.NewError(lirashield.ErrCodeMissingRate, "no USD/TRY rate for "+date.String()))
		return
	}
	writeSuccess(w, usdRateLookupResponse{Date: date.String(), Rate: rate})
}

func (h *handler) deleteUSDRate(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	deleted, err := h.core.DeleteUSDRate(id)
	if err != nil {
		writeErrorResponse(w, r, http.StatusInternalServerError, err)
		return
	}
	if !deleted {
		writeError(w, http.StatusNotFound, "rate not found")
		return
	}
	writeSuccessWithMessage(w, "deleted", map[string]int64{"id": id})
}

func (h *handler) fetchUSDRates(w http.ResponseWriter, r *http.Request) {
	var payload dateRangePayload
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	start, err := lirashield.ParseDate(payload.Start)
	if err != nil {
		writeErrorResponse(w, r, http.StatusBadRequest, err)
		return
	}
	end, err := lirashield.ParseDate(payload.End)
	if err != nil {
		writeErrorResponse(w, r, http.StatusBadRequest, err)
		return
	}
	result, err := h.core.FetchUSDRates(r.Context(), start, end)
	if err != nil {
		writeErrorResponse(w, r, http.StatusBadGateway, err)
		return
	}
	writeSuccess(w, result)
}

func (h *handler) quickRefreshUSDRates(w http.ResponseWriter, r *http.Request) {
	result, err := h.core.QuickRefreshUSDRates(r.Context())
	if err != nil {
		writeErrorResponse(w, r, http.StatusBadGateway, err)
		return
	}
	writeSuccess(w, result)
}

func (h *handler) importUSDRates(w http.ResponseWriter, r *http.Request) {
	body, ok := uploadBody(w, r)
	if !ok {
		return
	}
	defer body.Close()
	result, err := h.core.ImportUSDRatesCSV(r.Context(), body)
	if err != nil {
		writeErrorResponse(w, r, http.StatusBadRequest, err)
		return
	}
	writeSuccess(w, result)
}

func (h *handler) getCPI(w http.ResponseWriter, r *http.Request) {
	rows, err := h.core.ListCPI()
	if err != nil {
		writeErrorResponse(w, r, http.StatusInternalServerError, err)
		return
	}
	writeSuccess(w, rows)
}

func (h *handler) upsertCPI(w http.ResponseWriter, r *http.Request) {
	var payload cpiPayload
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ym, err := lirashield.ParseYearMonthLenient(payload.YearMonth)
	if err != nil {
		writeErrorResponse(w, r, http.StatusBadRequest, err)
		return
	}
	if err := h.core.UpsertCPI(ym, payload.YoY, payload.MoM, payload.Source, payload.Notes); err != nil {
		writeErrorResponse(w, r, http.StatusBadRequest, err)
		return
	}
	writeSuccessWithMessage(w, "saved", map[string]any{"year_month": ym})
}

func (h *handler) deleteCPI(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	deleted, err := h.core.DeleteCPI(id)
	if err != nil {
		writeErrorResponse(w, r, http.StatusInternalServerError, err)
		return
	}
	if !deleted {
		writeError(w, http.StatusNotFound, "cpi row not found")
		return
	}
	writeSuccessWithMessage(w, "deleted", map[string]int64{"id": id})
}

func (h *handler) importCPI(w http.ResponseWriter, r *http.Request) {
	body, ok := uploadBody(w, r)
	if !ok {
		return
	}
	defer body.Close()
	result, err := h.core.ImportCPICSV(r.Context(), body)
	if err != nil {
		writeErrorResponse(w, r, http.StatusBadRequest, err)
		return
	}
	writeSuccess(w, result)
}

// cumulativeCPI reports the interpolated CPI change between ?start_date= and ?end_date= (default today).
func (h *handler) cumulativeCPI(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	start, err := lirashield.ParseDate(query.Get("start_date"))
	if err != nil {
		writeErrorResponse(w, r, http.StatusBadRequest, err)
		return
	}
	end := h.core.Today()
	if raw := query.Get("end_date"); raw != "" {
		if end, err = lirashield.ParseDate(raw); err != nil {
			writeErrorResponse(w, r, http.StatusBadRequest, err)
			return
		}
	}
	change, err := h.core.CumulativeCPI(start, end)
	if err != nil {
		writeErrorResponse(w, r, http.StatusInternalServerError, err)
		return
	}
	writeSuccess(w, cumulativeCPIResponse{Start: start.String(), End: end.String(), ChangePct: change})
}

func (h *handler) getFundPrices(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	prices, err := h.core.ListFundPrices(query.Get("ticker"), parseInt(query.Get("limit")))
	if err != nil {
		writeErrorResponse(w, r, http.StatusInternalServerError, err)
		return
	}
	writeSuccess(w, prices)
}

func (h *handler) upsertFundPrice(w http.ResponseWriter, r *http.Request) {
	var payload fundPricePayload
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	date, err := lirashield.ParseDate(payload.Date)
	if err != nil {
		writeErrorResponse(w, r, http.StatusBadRequest, err)
		return
	}
	currency := lirashield.CurrencyTRY
	if strings.TrimSpace(payload.Currency) != "" {
		if currency, err = lirashield.ParseCurrency(payload.Currency); err != nil {
			writeErrorResponse(w, r, http.StatusBadRequest, err)
			return
		}
	}
	if err := h.core.UpsertFundPrice(date, payload.Ticker, payload.Price, currency, payload.Source); err != nil {
		writeErrorResponse(w, r, http.StatusBadRequest, err)
		return
	}
	writeSuccessWithMessage(w, "saved", map[string]any{"ticker": strings.ToUpper(strings.TrimSpace(payload.Ticker)), "date": date})
}

func (h *handler) getLatestFundPrices(w http.ResponseWriter, r *http.Request) {
	prices, err := h.core.LatestFundPrices()
	if err != nil {
		writeErrorResponse(w, r, http.StatusInternalServerError, err)
		return
	}
	writeSuccess(w, prices)
}

func (h *handler) refreshFundPrices(w http.ResponseWriter, r *http.Request) {
	result, err := h.core.RefreshPrices(r.Context())
	if err != nil {
		writeErrorResponse(w, r, http.StatusBadGateway, err)
		return
	}
	writeSuccess(w, result)
}

func (h *handler) getFIFO(w http.ResponseWriter, r *http.Request) {
	ticker := strings.ToUpper(strings.TrimSpace(chi.URLParam(r, "ticker")))
	result, err := h.core.MatchFIFO(ticker)
	if err != nil {
		writeErrorResponse(w, r, http.StatusInternalServerError, err)
		return
	}
	writeSuccess(w, result)
}

func (h *handler) getFIFOAll(w http.ResponseWriter, r *http.Request) {
	results, err := h.core.MatchFIFOAll()
	if err != nil {
		writeErrorResponse(w, r, http.StatusInternalServerError, err)
		return
	}
	writeSuccess(w, results)
}

func (h *handler) getOpenPositions(w http.ResponseWriter, r *http.Request) {
	positions, err := h.core.OpenPositions()
	if err != nil {
		writeErrorResponse(w, r, http.StatusInternalServerError, err)
		return
	}
	writeSuccess(w, positions)
}

func (h *handler) getRealizedGains(w http.ResponseWriter, r *http.Request) {
	gains, err := h.core.RealizedGains()
	if err != nil {
		writeErrorResponse(w, r, http.StatusInternalServerError, err)
		return
	}
	writeSuccess(w, gains)
}

func (h *handler) realReturn(w http.ResponseWriter, r *http.Request) {
	var payload realReturnPayload
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	buyDate, err := lirashield.ParseDate(payload.BuyDate)
	if err != nil {
		writeErrorResponse(w, r, http.StatusBadRequest, err)
		return
	}
	result, err := h.core.RealReturn(r.Context(), lirashield.RealReturnRequest{
		BuyPrice:       payload.BuyPrice,
		CurrentPrice:   payload.CurrentPrice,
		BuyDate:        buyDate,
		TaxRate:        payload.TaxRate,
		AutoFetch:      h.autoFetchOr(payload.AutoFetch),
		SkipBenchmarks: payload.SkipBenchmarks,
	})
	if err != nil {
		writeErrorResponse(w, r, http.StatusInternalServerError, err)
		return
	}
	writeSuccess(w, result)
}

func (h *handler) analyze(w http.ResponseWriter, r *http.Request) {
	var payload analyzePayload
	if err := decodeOptionalJSON(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	report, err := h.runAnalysis(r, payload)
	if err != nil {
		writeErrorResponse(w, r, http.StatusInternalServerError, err)
		return
	}
	resp := analyzeResponse{PortfolioReport: report}
	if payload.Markdown {
		resp.Markdown = lirashield.RenderMarkdown(report)
	}
	writeSuccess(w, resp)
}

func (h *handler) commentary(w http.ResponseWriter, r *http.Request) {
	var payload commentaryPayload
	if err := decodeOptionalJSON(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	report, err := h.runAnalysis(r, payload.analyzePayload)
	if err != nil {
		writeErrorResponse(w, r, http.StatusInternalServerError, err)
		return
	}
	text, err := h.core.GenerateCommentary(r.Context(), report, lirashield.AISettings{
		Provider: payload.Provider,
		Model:    payload.Model,
		APIKey:   payload.APIKey,
		BaseURL:  payload.BaseURL,
	})
	if err != nil {
		writeErrorResponse(w, r, http.StatusBadGateway, err)
		return
	}
	writeSuccess(w, commentaryResponse{Commentary: text, Report: report})
}

func (h *handler) runAnalysis(r *http.Request, payload analyzePayload) (*lirashield.PortfolioReport, error) {
	prices, err := h.core.PrefillPrices(payload.Prices)
	if err != nil {
		return nil, err
	}
	return h.core.AnalyzePortfolio(r.Context(), prices, lirashield.AnalyzeOptions{
		AutoFetch:              h.autoFetchOr(payload.AutoFetch),
		BenchmarkForeignAssets: payload.BenchmarkForeignAssets,
	})
}

// getPriceChart returns the TRY and USD price history of one ticker.
func (h *handler) getPriceChart(w http.ResponseWriter, r *http.Request) {
	opts, ok := h.seriesOptions(w, r)
	if !ok {
		return
	}
	series, err := h.core.PriceSeries(r.Context(), chi.URLParam(r, "ticker"), opts)
	if err != nil {
		writeErrorResponse(w, r, http.StatusInternalServerError, err)
		return
	}
	writeSuccess(w, series)
}

// getNormalizedChart compares ?tickers=A,B rebased to 100, in USD when usd=1.
func (h *handler) getNormalizedChart(w http.ResponseWriter, r *http.Request) {
	opts, ok := h.seriesOptions(w, r)
	if !ok {
		return
	}
	series, err := h.core.NormalizedSeries(r.Context(), strings.Split(r.URL.Query().Get("tickers"), ","), opts)
	if err != nil {
		writeErrorResponse(w, r, http.StatusInternalServerError, err)
		return
	}
	writeSuccess(w, series)
}

func (h *handler) seriesOptions(w http.ResponseWriter, r *http.Request) (lirashield.SeriesOptions, bool) {
	query := r.URL.Query()
	opts := lirashield.SeriesOptions{
		InUSD:     parseBool(query.Get("usd"), false),
		AutoFetch: parseBool(query.Get("auto_fetch"), h.autoFetch),
	}
	if raw := query.Get("base_date"); raw != "" {
		base, err := lirashield.ParseDate(raw)
		if err != nil {
			writeErrorResponse(w, r, http.StatusBadRequest, err)
			return opts, false
		}
		opts.BaseDate = &base
	}
	return opts, true
}

func (h *handler) autoFetchOr(v *bool) bool {
	if v == nil {
		return h.autoFetch
	}
	return *v
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}

// uploadBody accepts either a multipart form with a "file" field or a raw CSV body.
// The caller closes the returned body.
func uploadBody(w http.ResponseWriter, r *http.Request) (io.ReadCloser, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		file, _, err := r.FormFile("file")
		if err != nil {
			writeError(w, http.StatusBadRequest, "missing file field: "+err.Error())
			return nil, false
		}
		return file, true
	}
	return r.Body, true
}

func decodeJSON(r *http.Request, dst any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dst)
}

// decodeOptionalJSON is decodeJSON that treats an empty body as an empty object.
func decodeOptionalJSON(r *http.Request, dst any) error {
	if err := decodeJSON(r, dst); err != nil && err != io.EOF {
		return err
	}
	return nil
}

func parseInt(value string) int {
	if value == "" {
		return 0
	}
	i, _ := strconv.Atoi(value)
	return i
}

func parseIntDefault(value string, fallback int) int {
	if value == "" {
		return fallback
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return i
}

func parseBool(value string, fallback bool) bool {
	if value == "" {
		return fallback
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return b
}

func normalizeLimitOffset(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
