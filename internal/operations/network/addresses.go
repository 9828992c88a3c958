package network

import (
	"fmt"
	"net"

	"github.com/vishvananda/netlink"
)

// AddressLister returns every IP address configured on the host.
type AddressLister func() ([]net.IP, error)

// LocalAddresses returns the addresses of all links, including down ones.
func LocalAddresses() ([]net.IP, error) {
	links, err := netlink.LinkList()
	if err != nil {
		return nil, fmt.Errorf("failed to list links: %w", err)
	}

	var ips []net.IP
	for _, link := range links {
		addresses, err := netlink.AddrList(link, netlink.FAMILY_ALL)
		if err != nil {
			continue // Skip links that can't be queried
		}
		for _, addr := range addresses {
			if addr.IPNet != nil {
				ips = append(ips, addr.IP)
			}
		}
	}

	return ips, nil
}

// HasAddress reports whether host is one of the addresses returned by list.
func HasAddress(host string, list AddressLister) (bool, error) {
	ip := net.ParseIP(host)
	if ip == nil {
		return false, fmt.Errorf("invalid IP address: %s", host)
	}

	if list == nil {
		list = LocalAddresses
	}

	ips, err := list()
	if err != nil {
		return false, err
	}

	for _, local := range ips {
		if local.Equal(ip) {
			return true, nil
		}
	}

	return false, nil
}
