package deploy

import (
	"context"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/openfroyo/froyostack/pkg/artifact"
	"github.com/openfroyo/froyostack/pkg/engine"
)

const noChangesReason = "The submitted information didn't contain changes. Submit different information to create a change set."

type fakeStack struct {
	id     string
	status engine.StackStatus
	body   string
	params map[string]string
	events []engine.StackEvent
}

type fakeChangeset struct {
	req       engine.ChangesetRequest
	noChanges bool
}

// fakeInfra is an in-memory provider that converges every operation at once
// and records the events a real provider would report.
type fakeInfra struct {
	mu         sync.Mutex
	clock      time.Time
	seq        int
	stacks     map[string]*fakeStack
	changesets map[string]*fakeChangeset
	calls      []string

	// failResource makes the next create or update fail on this resource.
	failResource string
}

func newFakeInfra() *fakeInfra {
	return &fakeInfra{
		clock:      time.Now(),
		stacks:     map[string]*fakeStack{},
		changesets: map[string]*fakeChangeset{},
	}
}

func (f *fakeInfra) record(call string) {
	f.calls = append(f.calls, call)
}

func (f *fakeInfra) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeInfra) stack(name string) (*fakeStack, error) {
	s, ok := f.stacks[name]
	if !ok || s.status == engine.StackDeleteComplete {
		return nil, fmt.Errorf("%w: %s", engine.ErrStackNotFound, name)
	}
	return s, nil
}

func (f *fakeInfra) event(s *fakeStack, name, resourceType, resourceID string, status engine.StackStatus, reason string) {
	f.seq++
	f.clock = f.clock.Add(time.Second)
	s.events = append(s.events, engine.StackEvent{
		ID:           fmt.Sprintf("%s-%d", name, f.seq),
		StackName:    name,
		Timestamp:    f.clock,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Status:       status,
		Reason:       reason,
	})
}

// converge appends the events of one operation and settles the stack status.
func (f *fakeInfra) converge(s *fakeStack, name, op string) {
	f.clock = f.clock.Add(time.Minute)
	f.event(s, name, engine.StackResourceType, name, engine.StackStatus(op+"_IN_PROGRESS"), "User Initiated")

	if f.failResource != "" && op != "DELETE" {
		f.event(s, name, "AWS::Lambda::Function", f.failResource, engine.StackStatus(op+"_FAILED"), "Resource handler returned message: invalid runtime")
		final := engine.StackRollbackComplete
		if op == "UPDATE" {
			final = engine.StackUpdateRollbackComplete
		}
		f.event(s, name, engine.StackResourceType, name, final, "")
		s.status = final
		f.failResource = ""
		return
	}

	f.event(s, name, "AWS::S3::Bucket", "S3Bucket", engine.StackStatus(op+"_COMPLETE"), "")
	final := engine.StackStatus(op + "_COMPLETE")
	f.event(s, name, engine.StackResourceType, name, final, "")
	s.status = final
}

func applyParameters(current map[string]string, values []engine.ParameterValue) map[string]string {
	out := make(map[string]string, len(values))
	for _, v := range values {
		if v.UsePrevious {
			out[v.Key] = current[v.Key]
			continue
		}
		out[v.Key] = v.Value
	}
	return out
}

func (f *fakeInfra) ListStacks(context.Context) ([]engine.StackSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("ListStacks")
	var out []engine.StackSummary
	for name, s := range f.stacks {
		out = append(out, engine.StackSummary{StackName: name, StackID: s.id, Status: s.status})
	}
	return out, nil
}

func (f *fakeInfra) DescribeStack(_ context.Context, name string) (*engine.StackDescription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("DescribeStack")
	s, err := f.stack(name)
	if err != nil {
		return nil, err
	}
	return &engine.StackDescription{
		StackName:  name,
		StackID:    s.id,
		Status:     s.status,
		Parameters: maps.Clone(s.params),
		Outputs:    map[string]string{"SiteBucketName": name + "-site"},
	}, nil
}

func (f *fakeInfra) GetTemplate(_ context.Context, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("GetTemplate")
	s, err := f.stack(name)
	if err != nil {
		return "", err
	}
	return s.body, nil
}

func (f *fakeInfra) CreateStack(_ context.Context, req engine.StackRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("CreateStack")
	s := &fakeStack{
		id:     "arn:stack/" + req.StackName,
		body:   req.TemplateBody,
		params: applyParameters(nil, req.Parameters),
	}
	if old, ok := f.stacks[req.StackName]; ok {
		s.events = old.events
	}
	f.stacks[req.StackName] = s
	f.converge(s, req.StackName, "CREATE")
	return s.id, nil
}

func (f *fakeInfra) UpdateStack(_ context.Context, req engine.StackRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("UpdateStack")
	s, err := f.stack(req.StackName)
	if err != nil {
		return "", err
	}
	if !req.UsePreviousTemplate {
		s.body = req.TemplateBody
	}
	s.params = applyParameters(s.params, req.Parameters)
	f.converge(s, req.StackName, "UPDATE")
	return s.id, nil
}

func (f *fakeInfra) DeleteStack(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("DeleteStack")
	s, err := f.stack(name)
	if err != nil {
		return err
	}
	f.converge(s, name, "DELETE")
	return nil
}

func (f *fakeInfra) CreateChangeset(_ context.Context, req engine.ChangesetRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("CreateChangeset")
	s, err := f.stack(req.StackName)
	if err != nil {
		return "", err
	}
	body := req.TemplateBody
	if req.UsePreviousTemplate {
		body = s.body
	}
	noChanges := body == s.body && maps.Equal(applyParameters(s.params, req.Parameters), s.params)
	f.changesets[req.ChangeSetName] = &fakeChangeset{req: req, noChanges: noChanges}
	return s.id, nil
}

func (f *fakeInfra) DescribeChangeset(_ context.Context, _, name string) (*engine.ChangesetDescription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("DescribeChangeset")
	cs, ok := f.changesets[name]
	if !ok {
		return nil, fmt.Errorf("changeset %s not found", name)
	}
	if cs.noChanges {
		return &engine.ChangesetDescription{Name: name, Status: engine.ChangesetFailed, Reason: noChangesReason}, nil
	}
	return &engine.ChangesetDescription{Name: name, Status: engine.ChangesetReadyToExecute}, nil
}

func (f *fakeInfra) ExecuteChangeset(_ context.Context, stackName, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("ExecuteChangeset")
	s, err := f.stack(stackName)
	if err != nil {
		return err
	}
	cs := f.changesets[name]
	if !cs.req.UsePreviousTemplate {
		s.body = cs.req.TemplateBody
	}
	s.params = applyParameters(s.params, cs.req.Parameters)
	f.converge(s, stackName, "UPDATE")
	return nil
}

func (f *fakeInfra) DescribeStackEvents(_ context.Context, name string) ([]engine.StackEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("DescribeStackEvents")
	s, ok := f.stacks[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", engine.ErrStackNotFound, name)
	}
	out := slices.Clone(s.events)
	slices.Reverse(out)
	return out, nil
}

func (f *fakeInfra) parameters(name string) map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return maps.Clone(f.stacks[name].params)
}

type memObject struct {
	body string
	meta engine.ObjectMetadata
}

// memStore is an in-memory object store recording upload order.
type memStore struct {
	mu      sync.Mutex
	buckets map[string]map[string]memObject
	puts    []string
	deleted []string
}

func newMemStore() *memStore {
	return &memStore{buckets: map[string]map[string]memObject{}}
}

func (m *memStore) BucketExists(_ context.Context, bucket string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.buckets[bucket]
	return ok, nil
}

func (m *memStore) CreateBucket(_ context.Context, bucket string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.buckets[bucket] = map[string]memObject{}
	return nil
}

func (m *memStore) PutObject(_ context.Context, bucket, key string, body io.ReadSeeker, _ int64, meta engine.ObjectMetadata) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.buckets[bucket] == nil {
		m.buckets[bucket] = map[string]memObject{}
	}
	m.buckets[bucket][key] = memObject{body: string(data), meta: meta}
	m.puts = append(m.puts, bucket+"/"+key)
	return nil
}

func (m *memStore) ListObjects(_ context.Context, bucket, prefix string) ([]engine.ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	objects, ok := m.buckets[bucket]
	if !ok {
		return nil, fmt.Errorf("list-objects %s: %w", bucket, engine.ErrBucketNotFound)
	}
	var out []engine.ObjectInfo
	for k, o := range objects {
		if strings.HasPrefix(k, prefix) {
			out = append(out, engine.ObjectInfo{Key: k, Size: int64(len(o.body))})
		}
	}
	return out, nil
}

func (m *memStore) DeleteObjects(_ context.Context, bucket string, keys []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.buckets[bucket], k)
		m.deleted = append(m.deleted, bucket+"/"+k)
	}
	return nil
}

func (m *memStore) uploads() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.puts)
}

func (m *memStore) dropBucket(bucket string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.buckets, bucket)
}

func (m *memStore) count(bucket string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.buckets[bucket])
}

// copyBundler "bundles" a source by returning its bytes.
type copyBundler struct{}

func (copyBundler) Bundle(_ context.Context, sourceFile string, _ artifact.BuildOptions) ([]byte, error) {
	return os.ReadFile(sourceFile)
}

// scriptedPrompter answers prompts from a fixed map and records what it was asked.
type scriptedPrompter struct {
	answers map[string]string
	confirm bool
	asked   []engine.PromptRequest
}

func (p *scriptedPrompter) Prompt(_ context.Context, requests []engine.PromptRequest) (map[string]string, error) {
	p.asked = append(p.asked, requests...)
	out := make(map[string]string, len(requests))
	for _, r := range requests {
		out[r.Name] = p.answers[r.Name]
	}
	return out, nil
}

func (p *scriptedPrompter) Confirm(context.Context, string) (bool, error) {
	return p.confirm, nil
}
