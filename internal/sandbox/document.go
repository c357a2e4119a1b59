package sandbox

import (
	"fmt"
	"strings"
	"sync"
)

// RootID is the id of the document root.
const RootID = 0

// Document is the host-owned node tree scripts manipulate through the
// document capability. It is safe for concurrent use by several runtimes.
type Document struct {
	mu      sync.RWMutex
	root    *node
	nodes   map[int]*node
	nextID  int
	changes []Change
}

type node struct {
	id         int
	typ        string
	name       string
	attributes map[string]string
	children   []*node
	parent     *node
}

// Node is a detached copy of part of a Document.
type Node struct {
	ID         int               `json:"id"`
	Type       string            `json:"type"`
	Name       string            `json:"name"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Children   []Node            `json:"children,omitempty"`
}

// NewDocument creates a document holding only its root.
func NewDocument() *Document {
	root := &node{id: RootID, typ: "DOCUMENT", name: "Document", attributes: map[string]string{}}
	return &Document{
		root:   root,
		nodes:  map[int]*node{RootID: root},
		nextID: RootID + 1,
	}
}

// Create adds a node under parent and returns its id.
func (d *Document) Create(typ, name string, parent int) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	p, ok := d.nodes[parent]
	if !ok {
		return 0, fmt.Errorf("no node %d", parent)
	}
	n := &node{
		id:         d.nextID,
		typ:        strings.ToUpper(typ),
		name:       name,
		attributes: map[string]string{},
		parent:     p,
	}
	d.nextID++
	d.nodes[n.id] = n
	p.children = append(p.children, n)
	d.changes = append(d.changes, Change{Type: "create", NodeID: n.id, Property: "parent", Value: parent})
	return n.id, nil
}

// Remove detaches a node and its subtree. The root cannot be removed.
func (d *Document) Remove(id int) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	n, ok := d.nodes[id]
	if !ok {
		return fmt.Errorf("no node %d", id)
	}
	if n.parent == nil {
		return fmt.Errorf("cannot remove the document root")
	}

	siblings := n.parent.children[:0]
	for _, child := range n.parent.children {
		if child != n {
			siblings = append(siblings, child)
		}
	}
	n.parent.children = siblings
	n.parent = nil
	d.forget(n)
	d.changes = append(d.changes, Change{Type: "remove", NodeID: id})
	return nil
}

func (d *Document) forget(n *node) {
	delete(d.nodes, n.id)
	for _, child := range n.children {
		d.forget(child)
	}
}

// Set assigns an attribute. The "name" key renames the node.
func (d *Document) Set(id int, key, value string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	n, ok := d.nodes[id]
	if !ok {
		return fmt.Errorf("no node %d", id)
	}
	if key == "name" {
		n.name = value
	} else {
		n.attributes[key] = value
	}
	d.changes = append(d.changes, Change{Type: "set", NodeID: id, Property: key, Value: value})
	return nil
}

// Get reads an attribute, or the node name for the "name" key.
func (d *Document) Get(id int, key string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	n, ok := d.nodes[id]
	if !ok {
		return "", false
	}
	if key == "name" {
		return n.name, true
	}
	v, ok := n.attributes[key]
	return v, ok
}

// Lookup returns a copy of the node with id.
func (d *Document) Lookup(id int) (Node, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	n, ok := d.nodes[id]
	if !ok {
		return Node{}, false
	}
	return copyNode(n), true
}

// Query finds nodes by selector: "#Name" matches names, "*" matches
// everything else below the root, anything else matches node types.
func (d *Document) Query(selector string) []Node {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var match func(*node) bool
	switch {
	case strings.HasPrefix(selector, "#"):
		name := strings.TrimPrefix(selector, "#")
		match = func(n *node) bool { return n.name == name }
	case selector == "*":
		match = func(n *node) bool { return n != d.root }
	default:
		match = func(n *node) bool { return strings.EqualFold(n.typ, selector) }
	}

	var found []Node
	var walk func(*node)
	walk = func(n *node) {
		if match(n) {
			found = append(found, copyNode(n))
		}
		for _, child := range n.children {
			walk(child)
		}
	}
	walk(d.root)
	return found
}

// Snapshot returns a copy of the whole tree.
func (d *Document) Snapshot() Node {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return copyNode(d.root)
}

// Changes returns every change recorded so far.
func (d *Document) Changes() []Change {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]Change(nil), d.changes...)
}

func (d *Document) changesSince(mark int) []Change {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if mark >= len(d.changes) {
		return nil
	}
	return append([]Change(nil), d.changes[mark:]...)
}

func (d *Document) changeCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.changes)
}

func copyNode(n *node) Node {
	out := Node{ID: n.id, Type: n.typ, Name: n.name}
	if len(n.attributes) > 0 {
		out.Attributes = make(map[string]string, len(n.attributes))
		for k, v := range n.attributes {
			out.Attributes[k] = v
		}
	}
	for _, child := range n.children {
		out.Children = append(out.Children, copyNode(child))
	}
	return out
}
