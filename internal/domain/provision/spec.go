// Package provision defines declarative infrastructure specs and the
// capability interface implemented by cloud providers.
package provision

import (
	"context"
	"fmt"
)

// Kind identifies a provisionable resource type.
type Kind string

const (
	KindBucket  Kind = "bucket"
	KindNetwork Kind = "network"
)

// BucketSpec describes the storage bucket that stages export files.
type BucketSpec struct {
	Name     string
	Location string
}

// NetworkSpec describes the VPC network and subnet the service attaches to.
type NetworkSpec struct {
	Name      string
	Subnet    string
	CIDRRange string
}

// Spec is the full declarative resource set for one deployment.
type Spec struct {
	Project string
	Region  string
	Bucket  BucketSpec
	Network NetworkSpec
}

// Validate checks the spec before any cloud call is made.
func (s Spec) Validate() error {
	if s.Project == "" {
		return fmt.Errorf("project is required")
	}
	if s.Region == "" {
		return fmt.Errorf("region is required")
	}
	if s.Bucket.Name == "" {
		return fmt.Errorf("bucket name is required")
	}
	if s.Network.Name == "" {
		return fmt.Errorf("network name is required")
	}
	if s.Network.Subnet == "" {
		return fmt.Errorf("subnet name is required")
	}
	if s.Network.CIDRRange == "" {
		return fmt.Errorf("network CIDR range is required")
	}
	return nil
}

// Handle identifies a resource that exists, either found or created.
type Handle struct {
	Kind Kind `json:"kind"`
	// ID is the provider resource identifier.
	ID string `json:"id"`
	// Created is true when this run created the resource, false when it
	// already existed and was left unchanged.
	Created bool `json:"created"`
}

// State is the observed state of an existing resource.
type State struct {
	Kind   Kind              `json:"kind"`
	ID     string            `json:"id"`
	Exists bool              `json:"exists"`
	Attrs  map[string]string `json:"attrs,omitempty"`
}

// Provisioner ensures resources exist, creating them when absent and leaving
// them unchanged when present. Implementations must be idempotent: invoking
// Ensure twice with the same spec yields the same handle set.
type Provisioner interface {
	Ensure(ctx context.Context, spec Spec) ([]Handle, error)
	Describe(ctx context.Context, kind Kind, id string) (*State, error)
}
