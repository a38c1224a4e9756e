package progressbar

import (
	"context"
	"fmt"
	"sync"

	"github.com/gosuri/uiprogress"
	"github.com/gosuri/uiprogress/util/strutil"
	"golang.org/x/sync/errgroup"
)

const (
	Failed    = -1
	Waiting   = 0
	Completed = 100
)

// UpdateFunc sets the progress (percent or one of the constants above)
// of a bar. An empty status is derived from the progress value.
type UpdateFunc func(name string, p int, status string)

type ProgressBar struct {
	sync.Mutex

	barNames []string
	poller   func(context.Context, UpdateFunc) error

	err error
}

func NewProgressBar(poller func(context.Context, UpdateFunc) error, bars ...string) *ProgressBar {
	return &ProgressBar{
		poller:   poller,
		barNames: bars,
	}
}

type barState struct {
	p      int
	status string
}

// Show runs the poller and renders the bars until it returns.
func (b *ProgressBar) Show() {
	group, ctx := errgroup.WithContext(context.Background())

	barPipes := make(map[string]chan barState)

	for _, name := range b.barNames {
		barPipes[name] = make(chan barState)
	}

	update := func(name string, p int, status string) {
		if pipe, ok := barPipes[name]; ok {
			pipe <- barState{p, status}
		}
	}

	progress := uiprogress.New()

	var wg sync.WaitGroup

	for _, name := range b.barNames {
		wg.Add(1)

		// Bars are added here to keep the order of given names
		bar := progress.AddBar(100).AppendCompleted()
		bar.Width = 50

		go b.renderer(name, bar, barPipes[name], &wg)
	}

	group.Go(func() error {
		defer func() {
			for _, pipe := range barPipes {
				close(pipe)
			}
		}()

		return b.poller(ctx, update)
	})

	group.Go(func() error {
		progress.Start()
		defer func() {
			progress.Stop()
			fmt.Println()
		}()

		wg.Wait()

		return nil
	})

	var err error

	defer func() {
		b.Lock()
		defer b.Unlock()

		b.err = err
	}()

	err = group.Wait()
}

func (b *ProgressBar) Err() error {
	b.Lock()
	defer b.Unlock()

	return b.err
}

func (b *ProgressBar) renderer(name string, bar *uiprogress.Bar, pipe <-chan barState, wg *sync.WaitGroup) {
	defer wg.Done()

	var mu sync.Mutex
	var status string

	bar.PrependFunc(func(_ *uiprogress.Bar) string {
		mu.Lock()
		defer mu.Unlock()

		return strutil.Resize(fmt.Sprintf("%s: %*s", name, (32-len(name)), status), 35)
	})

	bar.Set(0)

	// The pipe is drained to the end even after a failure,
	// so the poller never blocks on it
	for st := range pipe {
		p := st.p

		text := st.status

		if len(text) == 0 {
			switch {
			case p == Failed:
				text = "failed"
			case p == Waiting:
				text = "waiting"
			case p >= Completed:
				text = "completed"
			default:
				text = "running"
			}
		}

		switch {
		case p == Failed:
			p = bar.Current()
		case p > Completed:
			p = Completed
		}

		mu.Lock()
		status = text
		mu.Unlock()

		bar.Set(p)
	}
}
