// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package swiftdb

import (
	"io"
	"strconv"

	"github.com/go-goose/goose/v5/client"
	gooseerrors "github.com/go-goose/goose/v5/errors"
	"github.com/go-goose/goose/v5/identity"
	"github.com/go-goose/goose/v5/swift"
)

// Object is a listed object.
type Object struct {
	Name string
	Size int64
}

// Client is the subset of a Swift client used by the store.
type Client interface {
	CreateContainer(container string) error
	PutReader(container, name string, r io.Reader, length int64) error
	GetReader(container, name string) (io.ReadCloser, int64, error)
	HeadObject(container, name string) (int64, error)
	DeleteObject(container, name string) error
	// List returns up to limit objects with prefix that sort after marker.
	List(container, prefix, marker string, limit int) ([]Object, error)
}

// IsNotFound reports whether err is a Swift not found error.
func IsNotFound(err error) bool {
	return err != nil && gooseerrors.IsNotFound(err)
}

// NewClient authenticates against the identity service in config.
func NewClient(config Config) (Client, error) {
	creds := &identity.Credentials{
		URL:        config.AuthURL,
		User:       config.User,
		Secrets:    config.Secret,
		Region:     config.Region,
		TenantName: config.TenantName,
		Domain:     config.Domain,
	}

	var authMode identity.AuthMode
	switch config.AuthVersion {
	case "", "2":
		authMode = identity.AuthUserPass
	case "3":
		authMode = identity.AuthUserPassV3
	case "keypair":
		authMode = identity.AuthKeyPair
	default:
		return nil, Error.New("unknown auth version %q", config.AuthVersion)
	}

	newClient := client.NewClient
	if config.Insecure {
		newClient = client.NewNonValidatingClient
	}
	return &gooseClient{swift: swift.New(newClient(creds, authMode, nil))}, nil
}

// gooseClient implements Client with goose.
type gooseClient struct {
	swift *swift.Client
}

func (c *gooseClient) CreateContainer(container string) error {
	return c.swift.CreateContainer(container, swift.Private)
}

func (c *gooseClient) PutReader(container, name string, r io.Reader, length int64) error {
	return c.swift.PutReader(container, name, r, length)
}

func (c *gooseClient) GetReader(container, name string) (io.ReadCloser, int64, error) {
	body, headers, err := c.swift.GetReader(container, name)
	if err != nil {
		return nil, 0, err
	}
	size, _ := strconv.ParseInt(headers.Get("Content-Length"), 10, 64)
	return body, size, nil
}

func (c *gooseClient) HeadObject(container, name string) (int64, error) {
	headers, err := c.swift.HeadObject(container, name)
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(headers.Get("Content-Length"), 10, 64)
}

func (c *gooseClient) DeleteObject(container, name string) error {
	return c.swift.DeleteObject(container, name)
}

func (c *gooseClient) List(container, prefix, marker string, limit int) ([]Object, error) {
	contents, err := c.swift.List(container, prefix, "", marker, limit)
	if err != nil {
		return nil, err
	}
	objects := make([]Object, 0, len(contents))
	for _, item := range contents {
		objects = append(objects, Object{Name: item.Name, Size: int64(item.LengthBytes)})
	}
	return objects, nil
}
