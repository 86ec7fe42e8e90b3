// Package tlsutil 为 api-server 准备 HTTPS 证书
//
// 未配置证书文件时，在证书目录下签发一套自签名 CA 与服务端证书。
// 主进程与沙箱子进程共用同一目录，沙箱代理在转发时跳过证书校验。
package tlsutil

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"log"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Files 证书文件路径
type Files struct {
	CA   string
	Cert string
	Key  string
}

// FilesIn 返回 dir 下的标准文件名
func FilesIn(dir string) Files {
	return Files{
		CA:   filepath.Join(dir, "ca.pem"),
		Cert: filepath.Join(dir, "server.pem"),
		Key:  filepath.Join(dir, "server-key.pem"),
	}
}

// Exist 三个文件均存在
func (f Files) Exist() bool {
	for _, p := range []string{f.CA, f.Cert, f.Key} {
		if _, err := os.Stat(p); err != nil {
			return false
		}
	}
	return true
}

// Options 签发参数
type Options struct {
	Dir          string
	Hosts        string // 额外 SANs，逗号分隔
	Organization string
	ValidFor     time.Duration
	Force        bool // 覆盖已有证书
}

func (o *Options) setDefaults() {
	if o.Organization == "" {
		o.Organization = "Livret"
	}
	if o.ValidFor <= 0 {
		o.ValidFor = 365 * 24 * time.Hour
	}
}

// Ensure 证书已存在时直接返回，否则签发新证书
func Ensure(opts Options) (Files, error) {
	if opts.Dir == "" {
		return Files{}, errors.New("tlsutil: cert dir is empty")
	}
	files := FilesIn(opts.Dir)
	if !opts.Force && files.Exist() {
		log.Printf("[tls.ensure] reuse dir=%s", opts.Dir)
		return files, nil
	}
	if err := Issue(opts); err != nil {
		return Files{}, err
	}
	return files, nil
}

// Issue 签发 CA 与由其签名的服务端证书，写入 opts.Dir
func Issue(opts Options) error {
	opts.setDefaults()
	if err := os.MkdirAll(opts.Dir, 0755); err != nil {
		return fmt.Errorf("create cert dir: %w", err)
	}

	caKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return fmt.Errorf("generate ca key: %w", err)
	}
	caTmpl := &x509.Certificate{
		Subject:               pkix.Name{Organization: []string{opts.Organization}, CommonName: opts.Organization + " CA"},
		NotAfter:              time.Now().Add(10 * 365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
		MaxPathLen:            1,
	}
	caDER, caCert, err := sign(caTmpl, caTmpl, &caKey.PublicKey, caKey)
	if err != nil {
		return fmt.Errorf("sign ca: %w", err)
	}

	srvKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return fmt.Errorf("generate server key: %w", err)
	}
	hosts := sanHosts(opts.Hosts)
	srvTmpl := &x509.Certificate{
		Subject:               pkix.Name{Organization: []string{opts.Organization}, CommonName: opts.Organization + " API"},
		NotAfter:              time.Now().Add(opts.ValidFor),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}
	for _, h := range hosts {
		if ip := net.ParseIP(h); ip != nil {
			srvTmpl.IPAddresses = append(srvTmpl.IPAddresses, ip)
		} else {
			srvTmpl.DNSNames = append(srvTmpl.DNSNames, h)
		}
	}
	srvDER, _, err := sign(srvTmpl, caCert, &srvKey.PublicKey, caKey)
	if err != nil {
		return fmt.Errorf("sign server: %w", err)
	}
	keyDER, err := x509.MarshalECPrivateKey(srvKey)
	if err != nil {
		return fmt.Errorf("marshal server key: %w", err)
	}

	files := FilesIn(opts.Dir)
	writes := []struct {
		path  string
		block string
		der   []byte
		perm  os.FileMode
	}{
		{files.CA, "CERTIFICATE", caDER, 0644},
		{files.Cert, "CERTIFICATE", srvDER, 0644},
		{files.Key, "EC PRIVATE KEY", keyDER, 0600},
	}
	for _, w := range writes {
		if err := writePEM(w.path, w.block, w.der, w.perm); err != nil {
			return fmt.Errorf("write %s: %w", w.path, err)
		}
	}

	log.Printf("[tls.issue] dir=%s sans=%s valid_for=%s", opts.Dir, strings.Join(hosts, ","), opts.ValidFor)
	return nil
}

// sign 生成序列号并签发，返回 DER 与解析后的证书
func sign(tmpl, parent *x509.Certificate, pub *ecdsa.PublicKey, signer *ecdsa.PrivateKey) ([]byte, *x509.Certificate, error) {
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, nil, err
	}
	tmpl.SerialNumber = serial
	tmpl.NotBefore = time.Now().Add(-time.Hour)

	der, err := x509.CreateCertificate(rand.Reader, tmpl, parent, pub, signer)
	if err != nil {
		return nil, nil, err
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, nil, err
	}
	return der, cert, nil
}

// sanHosts 本机回环地址 + 主机名 + 额外 hosts，去重
func sanHosts(extra string) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(h string) {
		h = strings.TrimSpace(h)
		if h == "" || seen[h] {
			return
		}
		seen[h] = true
		out = append(out, h)
	}

	add("localhost")
	add("127.0.0.1")
	add("::1")
	for _, h := range strings.Split(extra, ",") {
		add(h)
	}
	if name, err := os.Hostname(); err == nil {
		add(name)
	}
	return out
}

func writePEM(path, blockType string, der []byte, perm os.FileMode) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if err := pem.Encode(f, &pem.Block{Type: blockType, Bytes: der}); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
