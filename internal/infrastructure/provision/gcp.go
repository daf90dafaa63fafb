// Package provision implements the GCP resource provisioner: the staging
// bucket the export files live in and the VPC network the database service
// attaches to.
package provision

import (
	"context"
	"errors"
	"fmt"
	"strings"

	compute "cloud.google.com/go/compute/apiv1"
	"cloud.google.com/go/compute/apiv1/computepb"
	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/protobuf/proto"

	"github.com/graphport/graphport/internal/domain/provision"
	"github.com/graphport/graphport/internal/pkg/logger"
)

// bucketAPI is the slice of the storage service the provisioner needs.
type bucketAPI interface {
	Describe(ctx context.Context, name string) (location string, exists bool, err error)
	Create(ctx context.Context, name, location string) error
}

// networkAPI is the slice of the compute service the provisioner needs.
type networkAPI interface {
	DescribeNetwork(ctx context.Context, name string) (exists bool, err error)
	CreateNetwork(ctx context.Context, name string) error
	DescribeSubnet(ctx context.Context, region, name string) (cidr string, exists bool, err error)
	CreateSubnet(ctx context.Context, region, name, network, cidr string) error
}

// GCP ensures the declared resources exist in a project. Ensure is
// idempotent: resources found in the right shape are left untouched.
type GCP struct {
	buckets  bucketAPI
	networks networkAPI
}

// NewGCP builds a provisioner with real GCP clients.
func NewGCP(ctx context.Context, project string, opts ...option.ClientOption) (*GCP, error) {
	storageClient, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	networksClient, err := compute.NewNetworksRESTClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create networks client: %w", err)
	}
	subnetsClient, err := compute.NewSubnetworksRESTClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create subnetworks client: %w", err)
	}

	return &GCP{
		buckets:  &gcsAdapter{client: storageClient, project: project},
		networks: &computeAdapter{networks: networksClient, subnets: subnetsClient, project: project},
	}, nil
}

// newWithAPIs is the constructor used by tests.
func newWithAPIs(buckets bucketAPI, networks networkAPI) *GCP {
	return &GCP{buckets: buckets, networks: networks}
}

// Ensure creates each declared resource if absent and leaves it unchanged if
// present. A resource that exists with a different shape than the spec is a
// conflict, not something to mutate.
func (g *GCP) Ensure(ctx context.Context, spec provision.Spec) ([]provision.Handle, error) {
	if err := spec.Validate(); err != nil {
		return nil, provision.NewError(provision.KindBucket, "", "invalid spec", err)
	}

	var handles []provision.Handle

	bucket, err := g.ensureBucket(ctx, spec)
	if err != nil {
		return nil, err
	}
	handles = append(handles, *bucket)

	network, subnet, err := g.ensureNetwork(ctx, spec)
	if err != nil {
		return nil, err
	}
	handles = append(handles, *network, *subnet)

	return handles, nil
}

// Describe reports the observed state of a resource.
func (g *GCP) Describe(ctx context.Context, kind provision.Kind, id string) (*provision.State, error) {
	switch kind {
	case provision.KindBucket:
		location, exists, err := g.buckets.Describe(ctx, id)
		if err != nil {
			return nil, provision.NewError(kind, id, "describe failed", err)
		}
		state := &provision.State{Kind: kind, ID: id, Exists: exists}
		if exists {
			state.Attrs = map[string]string{"location": location}
		}
		return state, nil
	case provision.KindNetwork:
		exists, err := g.networks.DescribeNetwork(ctx, id)
		if err != nil {
			return nil, provision.NewError(kind, id, "describe failed", err)
		}
		return &provision.State{Kind: kind, ID: id, Exists: exists}, nil
	default:
		return nil, fmt.Errorf("unknown resource kind %q", kind)
	}
}

func (g *GCP) ensureBucket(ctx context.Context, spec provision.Spec) (*provision.Handle, error) {
	name := spec.Bucket.Name

	location, exists, err := g.buckets.Describe(ctx, name)
	if err != nil {
		return nil, classify(provision.KindBucket, name, err)
	}
	if exists {
		if spec.Bucket.Location != "" && !strings.EqualFold(location, spec.Bucket.Location) {
			return nil, provision.NewConflictError(provision.KindBucket, name,
				fmt.Sprintf("location %s, spec wants %s", location, spec.Bucket.Location))
		}
		logger.Debug("bucket exists, leaving unchanged", "bucket", name)
		return &provision.Handle{Kind: provision.KindBucket, ID: name}, nil
	}

	if err := g.buckets.Create(ctx, name, spec.Bucket.Location); err != nil {
		return nil, classify(provision.KindBucket, name, err)
	}
	logger.Info("created staging bucket", "bucket", name, "location", spec.Bucket.Location)
	return &provision.Handle{Kind: provision.KindBucket, ID: name, Created: true}, nil
}

func (g *GCP) ensureNetwork(ctx context.Context, spec provision.Spec) (*provision.Handle, *provision.Handle, error) {
	name := spec.Network.Name

	exists, err := g.networks.DescribeNetwork(ctx, name)
	if err != nil {
		return nil, nil, classify(provision.KindNetwork, name, err)
	}
	networkHandle := &provision.Handle{Kind: provision.KindNetwork, ID: name}
	if !exists {
		if err := g.networks.CreateNetwork(ctx, name); err != nil {
			return nil, nil, classify(provision.KindNetwork, name, err)
		}
		networkHandle.Created = true
		logger.Info("created network", "network", name)
	} else {
		logger.Debug("network exists, leaving unchanged", "network", name)
	}

	subnetName := spec.Network.Subnet
	cidr, exists, err := g.networks.DescribeSubnet(ctx, spec.Region, subnetName)
	if err != nil {
		return nil, nil, classify(provision.KindNetwork, subnetName, err)
	}
	subnetHandle := &provision.Handle{Kind: provision.KindNetwork, ID: subnetName}
	if exists {
		if cidr != spec.Network.CIDRRange {
			return nil, nil, provision.NewConflictError(provision.KindNetwork, subnetName,
				fmt.Sprintf("CIDR %s, spec wants %s", cidr, spec.Network.CIDRRange))
		}
		logger.Debug("subnet exists, leaving unchanged", "subnet", subnetName)
		return networkHandle, subnetHandle, nil
	}

	if err := g.networks.CreateSubnet(ctx, spec.Region, subnetName, name, spec.Network.CIDRRange); err != nil {
		return nil, nil, classify(provision.KindNetwork, subnetName, err)
	}
	subnetHandle.Created = true
	logger.Info("created subnet", "subnet", subnetName, "cidr", spec.Network.CIDRRange)
	return networkHandle, subnetHandle, nil
}

// classify maps provider errors onto the provisioning error taxonomy.
func classify(kind provision.Kind, id string, err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch {
		case gerr.Code == 403 && strings.Contains(strings.ToLower(gerr.Message), "quota"),
			gerr.Code == 429:
			return provision.NewQuotaError(kind, id, err)
		case gerr.Code == 409:
			return provision.NewConflictError(kind, id, gerr.Message)
		}
	}
	return provision.NewError(kind, id, "request failed", err)
}

// gcsAdapter implements bucketAPI on the Cloud Storage client.
type gcsAdapter struct {
	client  *storage.Client
	project string
}

func (a *gcsAdapter) Describe(ctx context.Context, name string) (string, bool, error) {
	attrs, err := a.client.Bucket(name).Attrs(ctx)
	if errors.Is(err, storage.ErrBucketNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return attrs.Location, true, nil
}

func (a *gcsAdapter) Create(ctx context.Context, name, location string) error {
	attrs := &storage.BucketAttrs{Location: location}
	return a.client.Bucket(name).Create(ctx, a.project, attrs)
}

// computeAdapter implements networkAPI on the Compute Engine clients.
type computeAdapter struct {
	networks *compute.NetworksClient
	subnets  *compute.SubnetworksClient
	project  string
}

func (a *computeAdapter) DescribeNetwork(ctx context.Context, name string) (bool, error) {
	_, err := a.networks.Get(ctx, &computepb.GetNetworkRequest{
		Project: a.project,
		Network: name,
	})
	if isNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (a *computeAdapter) CreateNetwork(ctx context.Context, name string) error {
	op, err := a.networks.Insert(ctx, &computepb.InsertNetworkRequest{
		Project: a.project,
		NetworkResource: &computepb.Network{
			Name:                  proto.String(name),
			AutoCreateSubnetworks: proto.Bool(false),
		},
	})
	if err != nil {
		return err
	}
	return op.Wait(ctx)
}

func (a *computeAdapter) DescribeSubnet(ctx context.Context, region, name string) (string, bool, error) {
	subnet, err := a.subnets.Get(ctx, &computepb.GetSubnetworkRequest{
		Project:    a.project,
		Region:     region,
		Subnetwork: name,
	})
	if isNotFound(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return subnet.GetIpCidrRange(), true, nil
}

func (a *computeAdapter) CreateSubnet(ctx context.Context, region, name, network, cidr string) error {
	op, err := a.subnets.Insert(ctx, &computepb.InsertSubnetworkRequest{
		Project: a.project,
		Region:  region,
		SubnetworkResource: &computepb.Subnetwork{
			Name:        proto.String(name),
			Network:     proto.String(fmt.Sprintf("projects/%s/global/networks/%s", a.project, network)),
			IpCidrRange: proto.String(cidr),
		},
	})
	if err != nil {
		return err
	}
	return op.Wait(ctx)
}

func isNotFound(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == 404
}
