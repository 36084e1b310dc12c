package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/camuig/riskbot/internal/keystore"
	"github.com/camuig/riskbot/internal/scheduler"
	"github.com/camuig/riskbot/internal/storage"
)

const (
	defaultLimit = 50
	maxLimit     = 500
)

type botView struct {
	storage.BotConfig
	Registered bool `json:"registered"`
}

type DashboardData struct {
	Bots         []botView
	RecentTrades []storage.TradeRecord
	OpenTrades   int
	TotalPnl     decimal.Decimal
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	data := DashboardData{}

	if bots, err := s.bots(r); err == nil {
		data.Bots = bots
		for _, b := range bots {
			data.TotalPnl = data.TotalPnl.Add(b.TotalPnl)
		}
	} else {
		s.logger.Error("list bots for dashboard", "error", err)
	}

	if trades, err := s.repo.RecentTrades(r.Context(), 20); err == nil {
		data.RecentTrades = trades
		for _, t := range trades {
			if t.Status == storage.TradeOpen {
				data.OpenTrades++
			}
		}
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.dashboard.Execute(w, data); err != nil {
		s.logger.Error("execute template", "error", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleBots(w http.ResponseWriter, r *http.Request) {
	bots, err := s.bots(r)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bots)
}

func (s *Server) bots(r *http.Request) ([]botView, error) {
	bots, err := s.repo.ListBots(r.Context())
	if err != nil {
		return nil, err
	}
	views := make([]botView, 0, len(bots))
	for _, b := range bots {
		views = append(views, botView{BotConfig: b, Registered: s.control.IsRegistered(b.ID)})
	}
	return views, nil
}

func (s *Server) handleBotRuns(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	runs, err := s.repo.RecentBotRuns(r.Context(), id, limit(r))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

type startRequest struct {
	Secret string `json:"secret"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req startRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil || req.Secret == "" {
		writeError(w, http.StatusBadRequest, "body must be {\"secret\": \"...\"}")
		return
	}
	if err := s.control.Start(r.Context(), id, req.Secret); err != nil {
		s.fail(w, err)
		return
	}
	s.logger.Info("bot started via api", "bot", id)
	s.writeBot(w, r, id)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if _, err := s.repo.LoadBotConfig(r.Context(), id); err != nil {
		s.fail(w, err)
		return
	}
	if err := s.control.Stop(r.Context(), id); err != nil {
		s.fail(w, err)
		return
	}
	s.logger.Info("bot stopped via api", "bot", id)
	s.writeBot(w, r, id)
}

func (s *Server) writeBot(w http.ResponseWriter, r *http.Request, id uint) {
	bot, err := s.repo.LoadBotConfig(r.Context(), id)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, botView{BotConfig: *bot, Registered: s.control.IsRegistered(id)})
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	trades, err := s.repo.RecentTrades(r.Context(), limit(r))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, trades)
}

// fail maps domain errors to status codes. Internal details are logged, not returned.
func (s *Server) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, keystore.ErrDecrypt):
		writeError(w, http.StatusUnauthorized, "secret does not unlock the wallet")
	case errors.Is(err, scheduler.ErrWalletInUse):
		writeError(w, http.StatusConflict, "wallet is used by another running bot")
	default:
		s.logger.Error("api request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func pathID(w http.ResponseWriter, r *http.Request) (uint, bool) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil || id == 0 {
		writeError(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return uint(id), true
}

func limit(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 {
		return defaultLimit
	}
	if n > maxLimit {
		return maxLimit
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
