package journal

import "time"

// Constructors for the base predicates declared in schema.mg.

func DemoStarted(run, tag, url string) Fact {
	return Fact{Predicate: "demo_started", Args: []interface{}{run, tag, url}, Timestamp: time.Now()}
}

func ActionExecuted(run, kind, target string, attempts int) Fact {
	return Fact{Predicate: "action_executed", Args: []interface{}{run, kind, target, attempts}, Timestamp: time.Now()}
}

func ActionFailed(run, kind, target, reason string) Fact {
	return Fact{Predicate: "action_failed", Args: []interface{}{run, kind, target, reason}, Timestamp: time.Now()}
}

func ActionSkipped(run, reason string) Fact {
	return Fact{Predicate: "action_skipped", Args: []interface{}{run, reason}, Timestamp: time.Now()}
}

func FeatureProposed(run, feature string) Fact {
	return Fact{Predicate: "feature_proposed", Args: []interface{}{run, feature}, Timestamp: time.Now()}
}

func ReplyClassified(run, class string) Fact {
	return Fact{Predicate: "reply_classified", Args: []interface{}{run, class}, Timestamp: time.Now()}
}

func TurnCompleted(run string, n int) Fact {
	return Fact{Predicate: "turn_completed", Args: []interface{}{run, n}, Timestamp: time.Now()}
}

func DemoStopped(run string) Fact {
	return Fact{Predicate: "demo_stopped", Args: []interface{}{run}, Timestamp: time.Now()}
}
