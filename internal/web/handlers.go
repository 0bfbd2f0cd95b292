package web

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"openrange/internal/backtest"
	"openrange/internal/store"
	"openrange/pkg/model"
)

const dateLayout = "2006-01-02"

// BacktestRequest is the body of POST /backtest. Unset fields keep the
// server's configured defaults.
type BacktestRequest struct {
	Label string `json:"label"`
	Year  int    `json:"year"`
	From  string `json:"from"` // YYYY-MM-DD, inclusive
	To    string `json:"to"`   // YYYY-MM-DD, exclusive

	RangeRequirement *float64 `json:"range_requirement"`
	ProfitTarget     *float64 `json:"profit_target"`
	MaxTradesPerDay  *int     `json:"max_trades_per_day"`
	PositionSize     *float64 `json:"position_size"`
	ExitStrategy     *string  `json:"exit_strategy"`
	StopPlacement    *string  `json:"stop_placement"`
	TieBreak         *string  `json:"tie_break"`

	Save        bool `json:"save"`
	IncludeBars bool `json:"include_bars"`
}

// BacktestResponse wraps a run result with its archive ID when saved
type BacktestResponse struct {
	RunID string `json:"run_id,omitempty"`
	*backtest.Result
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"bars":   s.bars.Len(),
		"time":   time.Now().UTC(),
	})
}

func (s *Server) handleYears(c *gin.Context) {
	years := s.bars.Years()
	out := make([]gin.H, 0, len(years))
	for _, y := range years {
		out = append(out, gin.H{"year": y, "bars": len(s.bars.Year(y))})
	}
	c.JSON(http.StatusOK, gin.H{"years": out})
}

func (s *Server) handleBacktest(c *gin.Context) {
	var req BacktestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	cfg, err := s.applyOverrides(req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	bars, err := s.selectBars(req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	bt, err := backtest.New(cfg, s.logger)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	res, err := bt.Run(c.Request.Context(), bars)
	if err != nil {
		s.logger.Error("backtest failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := BacktestResponse{Result: res}
	if req.Save {
		id, err := s.recorder.SaveRun(c.Request.Context(), req.Label, res)
		if err != nil {
			s.logger.Error("failed to archive run", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		resp.RunID = id
	}
	if !req.IncludeBars {
		res.Bars = nil
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) applyOverrides(req BacktestRequest) (backtest.Config, error) {
	cfg := s.base
	if req.RangeRequirement != nil {
		cfg.RangeRequirement = *req.RangeRequirement
	}
	if req.ProfitTarget != nil {
		cfg.ProfitTarget = *req.ProfitTarget
	}
	if req.MaxTradesPerDay != nil {
		cfg.MaxTradesPerDay = *req.MaxTradesPerDay
	}
	if req.PositionSize != nil {
		cfg.PositionSize = *req.PositionSize
	}
	if req.ExitStrategy != nil {
		mode, err := backtest.ParseExitMode(*req.ExitStrategy)
		if err != nil {
			return cfg, err
		}
		cfg.Exit.Mode = mode
	}
	if req.StopPlacement != nil {
		cfg.Stop.Placement = backtest.StopPlacement(*req.StopPlacement)
	}
	if req.TieBreak != nil {
		cfg.TieBreak = backtest.TieBreak(*req.TieBreak)
	}
	return cfg, cfg.Validate()
}

func (s *Server) selectBars(req BacktestRequest) ([]model.Bar, error) {
	switch {
	case req.From != "" || req.To != "":
		if req.From == "" || req.To == "" {
			return nil, errors.New("from and to must be given together")
		}
		from, err := time.ParseInLocation(dateLayout, req.From, s.opts.Location)
		if err != nil {
			return nil, errors.New("invalid from date, expected YYYY-MM-DD")
		}
		to, err := time.ParseInLocation(dateLayout, req.To, s.opts.Location)
		if err != nil {
			return nil, errors.New("invalid to date, expected YYYY-MM-DD")
		}
		if !from.Before(to) {
			return nil, errors.New("from must be before to")
		}
		return s.bars.Between(from, to), nil
	case req.Year != 0:
		return s.bars.Year(req.Year), nil
	default:
		return s.bars.Bars(), nil
	}
}

func (s *Server) handleListRuns(c *gin.Context) {
	limit := 50
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}

	runs, err := s.recorder.ListRuns(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (s *Server) handleGetRun(c *gin.Context) {
	run, err := s.recorder.GetRun(c.Request.Context(), c.Param("id"))
	if errors.Is(err, store.ErrRunNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, run)
}

func (s *Server) handleDeleteRun(c *gin.Context) {
	err := s.recorder.DeleteRun(c.Request.Context(), c.Param("id"))
	if errors.Is(err, store.ErrRunNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}
