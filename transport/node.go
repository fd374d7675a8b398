package transport

import (
	"path"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// A Node is a bus attachment scoped to a namespace, usually a world name.
// Topic names starting with "~/" resolve under the namespace, so plugins can
// advertise without knowing which world they were loaded into.
type Node struct {
	mu        sync.Mutex
	bus       *Bus
	namespace string
	pubs      []interface{ Close() error }
	subs      []*Subscription
}

// NewNode attaches a new, uninitialized node to the bus.
func NewNode(bus *Bus) *Node {
	return &Node{bus: bus}
}

// Init sets the node's namespace. It must be called exactly once before
// advertising or subscribing.
func (n *Node) Init(namespace string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if namespace == "" {
		return errors.New("node namespace cannot be empty")
	}
	if n.namespace != "" {
		return errors.Errorf("node already initialized with namespace %q", n.namespace)
	}
	n.namespace = strings.Trim(namespace, "/")
	return nil
}

// Namespace returns the namespace set by Init, or "".
func (n *Node) Namespace() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.namespace
}

// ResolveTopic maps a topic name to its canonical absolute form: "~/x" and
// bare relative names land under the node's namespace, absolute names pass
// through. Repeated slashes collapse.
func (n *Node) ResolveTopic(name string) (string, error) {
	n.mu.Lock()
	namespace := n.namespace
	n.mu.Unlock()

	if name == "" {
		return "", errors.New("topic name cannot be empty")
	}
	var full string
	switch {
	case strings.HasPrefix(name, "~/"):
		if namespace == "" {
			return "", errors.Errorf("cannot resolve %q: node not initialized", name)
		}
		full = "/" + namespace + "/" + name[2:]
	case strings.HasPrefix(name, "/"):
		full = name
	default:
		if namespace == "" {
			return "", errors.Errorf("cannot resolve %q: node not initialized", name)
		}
		full = "/" + namespace + "/" + name
	}
	full = path.Clean(full)
	if full == "/" {
		return "", errors.Errorf("topic %q resolves to nothing", name)
	}
	return full, nil
}

func (n *Node) trackPub(p interface{ Close() error }) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.pubs = append(n.pubs, p)
}

func (n *Node) trackSub(s *Subscription) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.subs = append(n.subs, s)
}

// Close unsubscribes and unadvertises everything created through the node.
func (n *Node) Close() error {
	n.mu.Lock()
	pubs := n.pubs
	subs := n.subs
	n.pubs = nil
	n.subs = nil
	n.mu.Unlock()

	var err error
	for _, s := range subs {
		s.Unsubscribe()
	}
	for _, p := range pubs {
		err = multierr.Combine(err, p.Close())
	}
	return err
}
