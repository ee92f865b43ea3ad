package engine

type Counters struct {
	TasksCompleted int `json:"tasks_completed"`
	TaskTotal      int `json:"task_total"`
	SurvivorsAlive int `json:"survivors_alive"`
}

// Tracker holds the win-condition counters. The engine decides when it may be touched.
type Tracker struct {
	c Counters
}

func NewTracker(taskTotal int) *Tracker {
	return &Tracker{c: Counters{TaskTotal: taskTotal}}
}

// Arm sets the survivor count when play begins.
func (t *Tracker) Arm(survivors int) {
	t.c.SurvivorsAlive = survivors
}

// CompleteTask reports whether the task total has been reached.
func (t *Tracker) CompleteTask() bool {
	if t.c.TasksCompleted < t.c.TaskTotal {
		t.c.TasksCompleted++
	}
	return t.c.TasksCompleted >= t.c.TaskTotal
}

// LoseSurvivor reports whether no survivors remain.
func (t *Tracker) LoseSurvivor() bool {
	if t.c.SurvivorsAlive > 0 {
		t.c.SurvivorsAlive--
	}
	return t.c.SurvivorsAlive == 0
}

func (t *Tracker) Counters() Counters { return t.c }
