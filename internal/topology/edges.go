package topology

// RouteBinding pairs a gateway route with the function serving it.
type RouteBinding struct {
	Route    HTTPRoute
	Function *Function
}

// Routes returns every gateway route in function order.
func (t *Topology) Routes() []RouteBinding {
	var out []RouteBinding
	for i := range t.Functions {
		fn := &t.Functions[i]
		for _, trigger := range fn.Triggers {
			if r, ok := trigger.(HTTPRoute); ok {
				out = append(out, RouteBinding{Route: r, Function: fn})
			}
		}
	}
	return out
}

// Edge is one event-wiring edge from an event source to a function.
type Edge struct {
	Kind     TriggerKind
	Function string
	Label    string
	Trigger  Trigger
}

// Edges returns the event-wiring graph in function order.
func (t *Topology) Edges() []Edge {
	var out []Edge
	for _, fn := range t.Functions {
		for _, trigger := range fn.Triggers {
			out = append(out, Edge{
				Kind:     trigger.Kind(),
				Function: fn.ID,
				Label:    trigger.Label(),
				Trigger:  trigger,
			})
		}
	}
	return out
}

// ObjectSubscriber returns the function subscribed to object creation, if any.
func (t *Topology) ObjectSubscriber() *Function {
	for i := range t.Functions {
		for _, trigger := range t.Functions[i].Triggers {
			if _, ok := trigger.(ObjectCreated); ok {
				return &t.Functions[i]
			}
		}
	}
	return nil
}

// StreamSubscribers returns the functions fed by the table stream with their
// trigger settings.
func (t *Topology) StreamSubscribers() []StreamSubscription {
	var out []StreamSubscription
	for i := range t.Functions {
		for _, trigger := range t.Functions[i].Triggers {
			if s, ok := trigger.(StreamEvents); ok {
				out = append(out, StreamSubscription{Function: &t.Functions[i], Events: s})
			}
		}
	}
	return out
}

// StreamSubscription pairs a stream-triggered function with its trigger.
type StreamSubscription struct {
	Function *Function
	Events   StreamEvents
}
