// Package etcdtest runs a disposable etcd node for tests.
package etcdtest

import (
	"context"
	"time"

	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	v3 "go.etcd.io/etcd/client/v3"
)

const (
	repository = "quay.io/coreos/etcd"
	tag        = "v3.5.13"
	clientPort = "2379/tcp"

	expireAfter = 2 * time.Minute
)

// StartEtcd runs a single node etcd container and returns a client connected
// to it. teardown is always safe to call.
func StartEtcd(pool *dockertest.Pool) (client *v3.Client, teardown func(), err error) {
	teardown = func() {}

	resource, err := pool.RunWithOptions(&dockertest.RunOptions{
		Repository: repository,
		Tag:        tag,
		Cmd: []string{
			"/usr/local/bin/etcd",
			"--listen-client-urls=http://0.0.0.0:2379",
			"--advertise-client-urls=http://0.0.0.0:2379",
		},
	}, func(config *docker.HostConfig) {
		config.AutoRemove = true
		config.RestartPolicy = docker.RestartPolicy{Name: "no"}
	})
	if err != nil {
		return nil, teardown, errors.Wrap(err, "error starting etcd container")
	}

	log := logrus.StandardLogger().WithFields(logrus.Fields{
		"type":      "etcdtest",
		"container": resource.Container.ID,
	})

	// Containers outliving a crashed test run are reaped by docker
	if err := resource.Expire(uint(expireAfter.Seconds())); err != nil {
		log.WithError(err).Warn("failure setting container expiry")
	}

	teardown = func() {
		if err := pool.Purge(resource); err != nil {
			log.WithError(err).Warn("failure purging etcd container")
		}
	}

	client, err = v3.New(v3.Config{
		Endpoints:   []string{"localhost:" + resource.GetPort(clientPort)},
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		teardown()
		return nil, func() {}, errors.Wrap(err, "error creating etcd client")
	}

	err = pool.Retry(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		_, err := client.Get(ctx, "/health")
		return err
	})
	if err != nil {
		client.Close()
		teardown()
		return nil, func() {}, errors.Wrap(err, "etcd did not become ready")
	}

	closeAll := teardown
	teardown = func() {
		client.Close()
		closeAll()
	}
	return client, teardown, nil
}
