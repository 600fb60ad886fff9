package batch

import (
	"sort"
	"sync"
	"time"

	"github.com/essay-grader/backend/internal/evaluation"
	"github.com/essay-grader/backend/internal/storage/models"
)

// ActiveEssay is an essay currently inside the evaluator.
type ActiveEssay struct {
	EssayID string                      `json:"essay_id"`
	Index   int                         `json:"index"`
	State   string                      `json:"state"`
	Scores  map[models.CompetencyID]int `json:"scores"`
}

// Progress is a point-in-time view of a run.
type Progress struct {
	RunID      string        `json:"run_id"`
	Mode       models.Mode   `json:"mode"`
	Total      int           `json:"total"`
	Completed  int           `json:"completed"`
	Written    int           `json:"written"`
	Skipped    int           `json:"skipped"`
	Degraded   int           `json:"degraded"`
	Active     []ActiveEssay `json:"active"`
	LastEssay  string        `json:"last_essay,omitempty"`
	LastScore  int           `json:"last_score"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt *time.Time    `json:"finished_at,omitempty"`
	Error      string        `json:"error,omitempty"`
}

func (p Progress) Done() bool {
	return p.FinishedAt != nil
}

// Tracker collects run progress and fans it out to subscribers. Slow
// subscribers miss updates rather than block grading.
type Tracker struct {
	mu     sync.Mutex
	state  Progress
	active map[string]*ActiveEssay
	subs   map[int]chan Progress
	nextID int
}

func NewTracker() *Tracker {
	return &Tracker{
		active: make(map[string]*ActiveEssay),
		subs:   make(map[int]chan Progress),
	}
}

func (t *Tracker) Snapshot() Progress {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

// Subscribe returns a channel of progress updates and a func that ends the
// subscription. The current snapshot is delivered first.
func (t *Tracker) Subscribe() (<-chan Progress, func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := t.nextID
	t.nextID++
	ch := make(chan Progress, 16)
	ch <- t.snapshotLocked()
	t.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			t.mu.Lock()
			defer t.mu.Unlock()
			if _, ok := t.subs[id]; ok {
				delete(t.subs, id)
				close(ch)
			}
		})
	}
}

// Hooks adapts the tracker to evaluator callbacks.
func (t *Tracker) Hooks() evaluation.Hooks {
	return evaluation.Hooks{
		OnState: func(essayID string, s evaluation.State) {
			t.update(func() {
				if a, ok := t.active[essayID]; ok {
					a.State = string(s)
				}
			})
		},
		OnCompetency: func(essayID string, c models.CompetencyID, r models.CompetencyResult) {
			t.update(func() {
				if a, ok := t.active[essayID]; ok {
					a.Scores[c] = r.Score
				}
			})
		},
	}
}

func (t *Tracker) start(runID string, mode models.Mode, total int) {
	t.update(func() {
		t.state = Progress{RunID: runID, Mode: mode, Total: total, StartedAt: time.Now()}
		t.active = make(map[string]*ActiveEssay)
	})
}

func (t *Tracker) essayStarted(index int, essayID string) {
	t.update(func() {
		t.active[essayID] = &ActiveEssay{
			EssayID: essayID,
			Index:   index,
			Scores:  make(map[models.CompetencyID]int),
		}
	})
}

func (t *Tracker) essayWritten(essayID string, score int, degraded bool) {
	t.update(func() {
		delete(t.active, essayID)
		t.state.Completed++
		t.state.Written++
		if degraded {
			t.state.Degraded++
		}
		t.state.LastEssay = essayID
		t.state.LastScore = score
	})
}

func (t *Tracker) essaySkipped(essayID string) {
	t.update(func() {
		delete(t.active, essayID)
		t.state.Completed++
		t.state.Skipped++
	})
}

func (t *Tracker) essayAbandoned(essayID string) {
	t.update(func() {
		delete(t.active, essayID)
	})
}

func (t *Tracker) finish(err error) {
	t.update(func() {
		now := time.Now()
		t.state.FinishedAt = &now
		if err != nil {
			t.state.Error = err.Error()
		}
	})
}

func (t *Tracker) update(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	fn()
	snap := t.snapshotLocked()
	for _, ch := range t.subs {
		select {
		case ch <- snap:
		default:
		}
	}
}

func (t *Tracker) snapshotLocked() Progress {
	snap := t.state
	snap.Active = make([]ActiveEssay, 0, len(t.active))
	for _, a := range t.active {
		scores := make(map[models.CompetencyID]int, len(a.Scores))
		for c, s := range a.Scores {
			scores[c] = s
		}
		snap.Active = append(snap.Active, ActiveEssay{EssayID: a.EssayID, Index: a.Index, State: a.State, Scores: scores})
	}
	sort.Slice(snap.Active, func(i, j int) bool { return snap.Active[i].Index < snap.Active[j].Index })
	if t.state.FinishedAt != nil {
		finished := *t.state.FinishedAt
		snap.FinishedAt = &finished
	}
	return snap
}
