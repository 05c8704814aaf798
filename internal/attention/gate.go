package attention

// Decision is the outcome of the attention gate for one admission
// candidate.
type Decision uint8

const (
	DecisionAdmit Decision = iota
	DecisionDefer
	DecisionDrop
)

func (d Decision) String() string {
	switch d {
	case DecisionAdmit:
		return "ADMIT"
	case DecisionDefer:
		return "DEFER"
	case DecisionDrop:
		return "DROP"
	default:
		return "UNKNOWN"
	}
}

// Priority is an admitted intent's routing priority class. BOOST is a
// policy-driven override orthogonal to the ADMIT/DEFER/DROP decision: it
// raises an already-admitted intent by one class, it never substitutes
// for the decision itself.
type Priority uint8

const (
	PriorityNormal Priority = iota
	PriorityBoosted
)

func (p Priority) String() string {
	if p == PriorityBoosted {
		return "BOOSTED"
	}
	return "NORMAL"
}

// Intent is the routing hint emitted alongside every decision, consumed
// downstream to pick the right handler family.
type Intent uint8

const (
	IntentIgnore Intent = iota
	IntentAction
	IntentRecall
	IntentMeta
)

func (i Intent) String() string {
	switch i {
	case IntentAction:
		return "action"
	case IntentRecall:
		return "recall"
	case IntentMeta:
		return "meta"
	default:
		return "ignore"
	}
}

// BoostPolicy decides whether an admitted candidate's priority should be
// raised one class. Kept separate from the core threshold rule so a
// policy capability can be swapped without touching the gate's math.
type BoostPolicy interface {
	Boost(c Candidate) bool
}

// UrgencyBoostPolicy boosts any admitted candidate whose urgency tag
// clears a fixed bar — the simplest policy-driven override spec.md §4.6
// names without prescribing an external capability for it.
type UrgencyBoostPolicy struct {
	Threshold float64
}

func (p UrgencyBoostPolicy) Boost(c Candidate) bool {
	return c.UrgencyTag >= p.Threshold
}

// Weights holds the salience feature weights. Need not sum to 1.0.
type Weights struct {
	Novelty         float64
	AffectArousal   float64
	UrgencyTag      float64
	ActorPriority   float64
	RecencyOfRelated float64
}

// DefaultWeights mirrors the teacher's default-weight convention: a
// dominant primary signal (novelty) with secondary signals contributing
// smaller, roughly even shares.
func DefaultWeights() Weights {
	return Weights{
		Novelty:          0.35,
		AffectArousal:    0.25,
		UrgencyTag:       0.20,
		ActorPriority:    0.10,
		RecencyOfRelated: 0.10,
	}
}

// Thresholds holds the decision rule's cutoffs (spec.md §4.6 step 3).
// Must satisfy AdmitLow < AdmitHigh and LoadDeferCutoff < LoadDropCutoff.
type Thresholds struct {
	AdmitHigh       float64 // salience >= AdmitHigh -> ADMIT, unconditionally
	AdmitLow        float64 // salience < AdmitLow enters the DROP-eligible branch
	LoadDeferCutoff float64 // in [AdmitLow, AdmitHigh): load >= this -> DEFER instead of ADMIT
	LoadDropCutoff  float64 // below AdmitLow: load > this -> DROP instead of DEFER
}

// DefaultThresholds returns spec.md §4.6's named default cutoffs.
func DefaultThresholds() Thresholds {
	return Thresholds{AdmitHigh: 0.75, AdmitLow: 0.4, LoadDeferCutoff: 0.8, LoadDropCutoff: 0.9}
}

// Candidate holds the salience feature vector for one admission decision,
// plus the intent classification of the underlying event. Every salience
// feature is expected in [0,1].
type Candidate struct {
	Novelty          float64
	AffectArousal    float64
	UrgencyTag       float64
	ActorPriority    float64
	RecencyOfRelated float64

	// Kind classifies what an ADMITted or DEFERred candidate routes to
	// downstream; DROP always reports IntentIgnore regardless of Kind.
	Kind Intent
}

// Contribution records one feature's weighted share of the salience score,
// for the explainability trail attached to the decision.
type Contribution struct {
	Feature string
	Weight  float64
	Value   float64
	Share   float64
}

// Result is the gate's decision for one candidate plus its explanation.
type Result struct {
	Salience      float64
	Decision      Decision
	Priority      Priority
	Intent        Intent
	Contributions []Contribution
}

// Gate evaluates admission candidates against spec.md §4.6's threshold
// rule. Structurally a generalization of the teacher's weighted-sum
// severity formula plus sequential-threshold state lookup, substituting a
// 5-feature salience vector for the 4-input severity formula.
type Gate struct {
	weights     Weights
	thresholds  Thresholds
	load        *LoadMeter
	boostPolicy BoostPolicy
}

// NewGate builds a Gate. load may be nil, in which case the load-aware
// branch of the decision rule always takes the low-load path. boost may
// be nil, in which case no candidate is ever boosted.
func NewGate(w Weights, t Thresholds, load *LoadMeter, boost BoostPolicy) *Gate {
	return &Gate{weights: w, thresholds: t, load: load, boostPolicy: boost}
}

// Admit scores a candidate and returns the decision. DROP never touches
// the episode already committed by the UnitOfWork — the gate only ever
// receives a post-commit candidate and has no handle capable of deleting
// anything.
//
// Decision rule (spec.md §4.6 step 3):
//   - salience >= AdmitHigh: ADMIT.
//   - AdmitLow <= salience < AdmitHigh: ADMIT if load < LoadDeferCutoff,
//     else DEFER.
//   - salience < AdmitLow: DROP if load > LoadDropCutoff, else DEFER.
//
// BOOST is not a fourth decision: it is an orthogonal policy override
// that raises an already-ADMITted candidate's priority by one class.
func (g *Gate) Admit(c Candidate) Result {
	contribs := []Contribution{
		{"novelty", g.weights.Novelty, c.Novelty, g.weights.Novelty * c.Novelty},
		{"affect_arousal", g.weights.AffectArousal, c.AffectArousal, g.weights.AffectArousal * c.AffectArousal},
		{"urgency_tag", g.weights.UrgencyTag, c.UrgencyTag, g.weights.UrgencyTag * c.UrgencyTag},
		{"actor_priority", g.weights.ActorPriority, c.ActorPriority, g.weights.ActorPriority * c.ActorPriority},
		{"recency_of_related", g.weights.RecencyOfRelated, c.RecencyOfRelated, g.weights.RecencyOfRelated * c.RecencyOfRelated},
	}

	var salience float64
	for _, ct := range contribs {
		salience += ct.Share
	}

	var load float64
	if g.load != nil {
		load = g.load.Value()
	}

	var decision Decision
	switch {
	case salience >= g.thresholds.AdmitHigh:
		decision = DecisionAdmit
	case salience >= g.thresholds.AdmitLow:
		if load < g.thresholds.LoadDeferCutoff {
			decision = DecisionAdmit
		} else {
			decision = DecisionDefer
		}
	default:
		if load > g.thresholds.LoadDropCutoff {
			decision = DecisionDrop
		} else {
			decision = DecisionDefer
		}
	}

	priority := PriorityNormal
	intent := c.Kind
	if decision == DecisionDrop {
		intent = IntentIgnore
	} else if decision == DecisionAdmit && g.boostPolicy != nil && g.boostPolicy.Boost(c) {
		priority = PriorityBoosted
	}

	return Result{Salience: salience, Decision: decision, Priority: priority, Intent: intent, Contributions: contribs}
}
