// Package predict estimates when an occupied seat will be vacated from the durations of past
// sessions held under similar conditions.
package predict

import (
	"context"
	"log"
	"math"
	"strconv"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"seat-queue-backend/config"
	"seat-queue-backend/internal/model"
	"seat-queue-backend/internal/store"
)

var fallbackLevel = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "seatq_prediction_fallback_level_total",
	Help: "Predictions by the fallback level of the segment used (0 is the most specific, default when no history).",
}, []string{"level"})

// Store is the read-only view of the occupancy store the predictor needs.
type Store interface {
	QueryClosedSessions(ctx context.Context, f store.SessionFilter) ([]model.OccupancySession, error)
	ActiveSession(ctx context.Context, room, seat string) (*model.OccupancySession, error)
}

// PeriodClassifier supplies the period type for a seat that is not occupied.
type PeriodClassifier interface {
	PeriodAt(ctx context.Context, t time.Time) (model.PeriodType, error)
}

// Band is the probability that the seat is vacated within HorizonMinutes from now.
type Band struct {
	HorizonMinutes int     `json:"horizonMinutes"`
	Probability    float64 `json:"probability"`
}

// CurvePoint is the conditional survival probability MinutesFromNow ahead.
type CurvePoint struct {
	MinutesFromNow      int     `json:"minutesFromNow"`
	SurvivalProbability float64 `json:"survivalProbability"`
}

// Prediction is the vacancy estimate for one seat.
type Prediction struct {
	Room                   string       `json:"room"`
	Seat                   string       `json:"seat"`
	Occupied               bool         `json:"occupied"`
	OccupiedSince          *time.Time   `json:"occupiedSince,omitempty"`
	ElapsedMinutes         float64      `json:"elapsedMinutes"`
	MedianRemainingMinutes float64      `json:"medianRemainingMinutes"`
	Q25RemainingMinutes    float64      `json:"optimisticRemainingMinutes"`
	Q75RemainingMinutes    float64      `json:"pessimisticRemainingMinutes"`
	PredictedVacancyAt     time.Time    `json:"predictedVacancyAt"`
	ProbabilityBands       []Band       `json:"probabilityBands"`
	Confidence             float64      `json:"confidence"`
	Segment                Segment      `json:"segment"`
	FallbackLevel          int          `json:"fallbackLevel"`
	SampleSize             int          `json:"sampleSize"`
	MeanSessionMinutes     float64      `json:"meanSessionMinutes"`
	Curve                  []CurvePoint `json:"survivalCurve,omitempty"`
}

// Predictor computes vacancy predictions. It only reads the store.
type Predictor struct {
	store   Store
	periods PeriodClassifier
	cfg     config.PredictionConfig
	loc     *time.Location
	samples *cache.Cache
	now     func() time.Time
}

// Option configures a Predictor.
type Option func(*Predictor)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(p *Predictor) { p.now = now }
}

// New creates a Predictor. Segment samples are cached for cfg.CacheTTL.
func New(st Store, periods PeriodClassifier, cfg config.PredictionConfig, loc *time.Location, opts ...Option) *Predictor {
	if loc == nil {
		loc = time.UTC
	}
	p := &Predictor{
		store:   st,
		periods: periods,
		cfg:     cfg,
		loc:     loc,
		samples: cache.New(cfg.CacheTTL, 2*cfg.CacheTTL),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Predict estimates the remaining occupancy of (room, seat). A seat without an active session
// is treated as a session starting now.
func (p *Predictor) Predict(ctx context.Context, room, seat string, withCurve bool) (*Prediction, error) {
	now := p.now()
	active, err := p.store.ActiveSession(ctx, room, seat)
	if err != nil {
		return nil, err
	}

	out := &Prediction{Room: room, Seat: seat}
	var base Segment
	if active != nil {
		since := active.StartTime
		out.Occupied = true
		out.OccupiedSince = &since
		out.ElapsedMinutes = math.Max(0, now.Sub(since).Minutes())
		base = Segment{
			PeriodType: string(active.PeriodType),
			HourBucket: string(BucketOf(active.StartHour)),
			DayType:    string(active.DayType),
			Room:       room,
		}
	} else {
		local := now.In(p.loc)
		period := model.PeriodNormal
		if p.periods != nil {
			if period, err = p.periods.PeriodAt(ctx, now); err != nil {
				log.Printf("Warning: could not classify period for prediction, using %s: %v", period, err)
			}
		}
		base = Segment{
			PeriodType: string(period),
			HourBucket: string(BucketOf(local.Hour())),
			DayType:    string(model.DayTypeOf(local)),
			Room:       room,
		}
	}

	curve, level, segment, n, err := p.selectSample(ctx, base)
	if err != nil {
		return nil, err
	}
	out.Segment = segment
	out.FallbackLevel = level
	out.SampleSize = n
	if level < len(fallbacks) {
		out.Confidence = fallbacks[level].weight * math.Min(1, float64(n)/float64(p.target()))
		out.MeanSessionMinutes = round1(curve.(*empirical).mean())
		fallbackLevel.WithLabelValues(strconv.Itoa(level)).Inc()
	} else {
		out.MeanSessionMinutes = p.cfg.DefaultSessionMinutes
		fallbackLevel.WithLabelValues("default").Inc()
	}

	e := out.ElapsedMinutes
	out.MedianRemainingMinutes = math.Round(curve.remainingQuantile(e, 0.5))
	out.Q25RemainingMinutes = math.Round(curve.remainingQuantile(e, 0.25))
	out.Q75RemainingMinutes = math.Round(curve.remainingQuantile(e, 0.75))
	out.PredictedVacancyAt = now.Add(time.Duration(out.MedianRemainingMinutes * float64(time.Minute))).UTC()

	for _, h := range p.cfg.HorizonsMinutes {
		out.ProbabilityBands = append(out.ProbabilityBands, Band{
			HorizonMinutes: h,
			Probability:    round3(1 - curve.conditional(e, float64(h))),
		})
	}
	if withCurve {
		out.Curve = p.curvePoints(curve, e)
	}
	return out, nil
}

// selectSample walks the fallback levels until a segment has enough closed sessions. When
// none has, the broadest sample is used if it is not empty; otherwise the level is
// len(fallbacks) and the default exponential curve is returned.
func (p *Predictor) selectSample(ctx context.Context, base Segment) (survival, int, Segment, int, error) {
	var broadest []float64
	for level, fb := range fallbacks {
		seg := fb.relax(base)
		durations, err := p.durations(ctx, seg)
		if err != nil {
			return nil, 0, Segment{}, 0, err
		}
		if len(durations) >= p.cfg.MinSampleSize {
			return newEmpirical(durations), level, seg, len(durations), nil
		}
		broadest = durations
	}

	last := len(fallbacks) - 1
	seg := fallbacks[last].relax(base)
	if len(broadest) > 0 {
		return newEmpirical(broadest), last, seg, len(broadest), nil
	}
	log.Printf("No occupancy history for any segment, using default %.0f minute curve", p.cfg.DefaultSessionMinutes)
	return newExponential(p.cfg.DefaultSessionMinutes), len(fallbacks), seg, 0, nil
}

func (p *Predictor) durations(ctx context.Context, seg Segment) ([]float64, error) {
	key := seg.Key()
	if v, ok := p.samples.Get(key); ok {
		return v.([]float64), nil
	}
	sessions, err := p.store.QueryClosedSessions(ctx, seg.filter(p.cfg.MinSessionMinutes, p.cfg.MaxSessionMinutes))
	if err != nil {
		return nil, err
	}
	durations := make([]float64, 0, len(sessions))
	for _, s := range sessions {
		if s.DurationMinutes != nil {
			durations = append(durations, *s.DurationMinutes)
		}
	}
	p.samples.SetDefault(key, durations)
	return durations, nil
}

// curvePoints samples the conditional survival curve. It is empty when the session already
// outlasted every observed one.
func (p *Predictor) curvePoints(curve survival, elapsed float64) []CurvePoint {
	if curve.conditional(elapsed, 0) <= 0 {
		return nil
	}
	step := p.cfg.CurveIntervalMinutes
	if step <= 0 {
		step = 15
	}
	limit := int(p.cfg.MaxSessionMinutes)
	var points []CurvePoint
	for t := 0; t <= limit; t += step {
		s := curve.conditional(elapsed, float64(t))
		points = append(points, CurvePoint{MinutesFromNow: t, SurvivalProbability: round3(s)})
		if s <= 0 {
			break
		}
	}
	return points
}

// Flush drops cached segment samples.
func (p *Predictor) Flush() {
	p.samples.Flush()
}

func (p *Predictor) target() int {
	if p.cfg.TargetSampleSize <= 0 {
		return 200
	}
	return p.cfg.TargetSampleSize
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }
func round3(v float64) float64 { return math.Round(v*1000) / 1000 }
