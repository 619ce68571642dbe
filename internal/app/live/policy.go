package live

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	DropFrame
	KickSubscriber
)

// Policy decides what happens to a subscriber whose buffer is full.
// dropped counts consecutive frames already dropped for it.
type Policy interface {
	OnBackPressure(sub *Subscriber, dropped int) BackpressureAction
}

// DropPolicy drops frames for a slow subscriber and kicks it after
// MaxDrops consecutive drops. Zero MaxDrops never kicks.
type DropPolicy struct {
	MaxDrops int
}

func (p DropPolicy) OnBackPressure(_ *Subscriber, dropped int) BackpressureAction {
	if p.MaxDrops > 0 && dropped >= p.MaxDrops {
		return KickSubscriber
	}
	return DropFrame
}
