package integrity

// ProjectCache keeps project metadata between builds of the same job so the
// projectinfo round trip is only paid once.
type ProjectCache interface {
	Get(jobName, configurationName string) (*Project, bool)
	Put(jobName, configurationName string, p *Project)
	// Invalidate drops every entry of a job.
	Invalidate(jobName string)
}

// NopProjectCache never caches anything.
type NopProjectCache struct{}

func (NopProjectCache) Get(string, string) (*Project, bool) { return nil, false }
func (NopProjectCache) Put(string, string, *Project)        {}
func (NopProjectCache) Invalidate(string)                   {}
