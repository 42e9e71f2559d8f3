package ssgi

// Pipeline cache keys for the GPU compute path.
const (
	hzbReducePipelineKey = "ssgi_hzb_reduce"
	rayMarchPipelineKey  = "ssgi_ray_march"
)

// hzbReduceWGSL is one 2x2 min-reduce pass of the Hi-Z chain. The runner
// dispatches it once per mip transition, rebinding src/dst windows inside the
// shared pyramid buffer via the uniform offsets.
const hzbReduceWGSL = `
struct ReduceParams {
    src_width: u32,
    src_height: u32,
    dst_width: u32,
    dst_height: u32,
    src_offset: u32,
    dst_offset: u32,
    pad0: u32,
    pad1: u32,
};

@group(0) @binding(0) var<uniform> rp: ReduceParams;
@group(0) @binding(1) var<storage, read> src: array<f32>;
@group(0) @binding(2) var<storage, read_write> dst: array<f32>;

fn src_at(x: u32, y: u32) -> f32 {
    let cx = min(x, rp.src_width - 1u);
    let cy = min(y, rp.src_height - 1u);
    return src[rp.src_offset + cy * rp.src_width + cx];
}

@compute @workgroup_size(8, 8, 1)
fn main(@builtin(global_invocation_id) gid: vec3<u32>) {
    if (gid.x >= rp.dst_width || gid.y >= rp.dst_height) {
        return;
    }
    let sx = gid.x * 2u;
    let sy = gid.y * 2u;
    var d = src_at(sx, sy);
    d = min(d, src_at(sx + 1u, sy));
    d = min(d, src_at(sx, sy + 1u));
    d = min(d, src_at(sx + 1u, sy + 1u));
    dst[rp.dst_offset + gid.y * rp.dst_width + gid.x] = d;
}
`

// rayMarchWGSL is the hemisphere gather kernel: the GPU twin of the CPU
// march in raymarch.go, one thread per indirect pixel. The hash, tier, and
// fallback logic mirror the CPU path so the two produce the same image up to
// filtering differences (the GPU samples history with nearest filtering).
const rayMarchWGSL = `
struct MarchParams {
    view_proj: mat4x4<f32>,
    inv_view_proj: mat4x4<f32>,
    camera_pos: vec4<f32>,
    width: u32,
    height: u32,
    iw: u32,
    ih: u32,
    ray_count: u32,
    max_steps: u32,
    frame_index: u32,
    rotation_seed: u32,
    fine_steps: u32,
    medium_steps: u32,
    coarse_steps: u32,
    hist_valid: u32,
    fine_size: f32,
    medium_size: f32,
    coarse_size: f32,
    thickness: f32,
    thickness_growth: f32,
    max_brightness: f32,
    near_clip: f32,
    far_clip: f32,
    layer_mask: u32,
    probe_count: u32,
    probe_camera: u32,
    ambient_override: u32,
    mip_count: u32,
    pad0: u32,
    pad1: u32,
    pad2: u32,
    mip_info: array<vec4<u32>, 10>,
    ambient_sh: array<vec4<f32>, 7>,
};

struct GpuProbe {
    center_extent: vec4<f32>,
    color_intensity: vec4<f32>,
    importance: vec4<f32>,
};

@group(0) @binding(0) var<uniform> mp: MarchParams;
@group(0) @binding(1) var<storage, read> depth: array<f32>;
@group(0) @binding(2) var<storage, read> pyramid: array<f32>;
@group(0) @binding(3) var<storage, read> normals: array<f32>;
@group(0) @binding(4) var<storage, read> direct: array<f32>;
@group(0) @binding(5) var<storage, read> flags: array<u32>;
@group(0) @binding(6) var<storage, read> history: array<f32>;
@group(0) @binding(7) var<storage, read> probes: array<GpuProbe>;
@group(0) @binding(8) var<storage, read_write> output: array<f32>;

const FAR_SENTINEL: f32 = 1.0;
const BACKGROUND_EPS: f32 = 1e-5;
const NORMAL_BIAS: f32 = 0.01;
const PROBE_CAMERA_SCALE: f32 = 0.3;
const PI: f32 = 3.14159265359;

fn is_background(d: f32) -> bool {
    return d >= FAR_SENTINEL - BACKGROUND_EPS;
}

fn wang_hash(seed: u32) -> u32 {
    var x = (seed ^ 61u) ^ (seed >> 16u);
    x = x * 9u;
    x = x ^ (x >> 4u);
    x = x * 0x27d4eb2du;
    x = x ^ (x >> 15u);
    return x;
}

fn hash01(x: u32) -> f32 {
    return f32(wang_hash(x) >> 8u) * (1.0 / 16777216.0);
}

fn linearize_depth(d: f32) -> f32 {
    var den = mp.far_clip - d * (mp.far_clip - mp.near_clip);
    den = max(den, 1e-6);
    return mp.near_clip * mp.far_clip / den;
}

fn depth_sample(u: f32, v: f32) -> f32 {
    let x = min(u32(u * f32(mp.width)), mp.width - 1u);
    let y = min(u32(v * f32(mp.height)), mp.height - 1u);
    return depth[y * mp.width + x];
}

fn pyramid_sample(level: u32, u: f32, v: f32) -> f32 {
    let lv = min(level, mp.mip_count - 1u);
    let info = mp.mip_info[lv];
    let x = min(u32(u * f32(info.y)), info.y - 1u);
    let y = min(u32(v * f32(info.z)), info.z - 1u);
    return pyramid[info.x + y * info.y + x];
}

fn surface_normal(px: u32, py: u32) -> vec3<f32> {
    let base = (py * mp.iw + px) * 3u;
    return vec3<f32>(normals[base], normals[base + 1u], normals[base + 2u]);
}

fn surface_direct(px: u32, py: u32) -> vec3<f32> {
    let base = (py * mp.iw + px) * 3u;
    return vec3<f32>(direct[base], direct[base + 1u], direct[base + 2u]);
}

fn history_color(u: f32, v: f32) -> vec3<f32> {
    let x = min(u32(u * f32(mp.width)), mp.width - 1u);
    let y = min(u32(v * f32(mp.height)), mp.height - 1u);
    let base = (y * mp.width + x) * 3u;
    return vec3<f32>(history[base], history[base + 1u], history[base + 2u]);
}

fn pixel_layers(px: u32, py: u32) -> u32 {
    var bits = flags[py * mp.iw + px] >> 16u;
    if (bits == 0u) {
        bits = 1u;
    }
    return bits;
}

fn unproject(u: f32, v: f32, d: f32) -> vec3<f32> {
    let ndc = vec4<f32>(u * 2.0 - 1.0, 1.0 - v * 2.0, d, 1.0);
    var w = mp.inv_view_proj * ndc;
    if (w.w == 0.0) {
        w.w = 1e-8;
    }
    return w.xyz / w.w;
}

fn eval_ambient_sh(dir: vec3<f32>) -> vec3<f32> {
    var basis: array<f32, 9>;
    basis[0] = 0.282095;
    basis[1] = 0.488603 * dir.y;
    basis[2] = 0.488603 * dir.z;
    basis[3] = 0.488603 * dir.x;
    basis[4] = 1.092548 * dir.x * dir.y;
    basis[5] = 1.092548 * dir.y * dir.z;
    basis[6] = 0.315392 * (3.0 * dir.z * dir.z - 1.0);
    basis[7] = 1.092548 * dir.x * dir.z;
    basis[8] = 0.546274 * (dir.x * dir.x - dir.y * dir.y);

    var out = vec3<f32>(0.0);
    for (var c = 0u; c < 9u; c = c + 1u) {
        let flat = c * 3u;
        let sh0 = mp.ambient_sh[flat / 4u][flat % 4u];
        let sh1 = mp.ambient_sh[(flat + 1u) / 4u][(flat + 1u) % 4u];
        let sh2 = mp.ambient_sh[(flat + 2u) / 4u][(flat + 2u) % 4u];
        out = out + vec3<f32>(sh0, sh1, sh2) * basis[c];
    }
    return max(out, vec3<f32>(0.0));
}

fn select_probe(point: vec3<f32>) -> u32 {
    var best = 0u;
    var best_dist = distance(probes[0].center_extent.xyz, point);
    for (var i = 1u; i < mp.probe_count; i = i + 1u) {
        let bi = probes[best].importance.x;
        let ci = probes[i].importance.x;
        let be = probes[best].center_extent.w;
        let ce = probes[i].center_extent.w;
        let d = distance(probes[i].center_extent.xyz, point);
        if (ci > bi || (ci == bi && ce < be) || (ci == bi && ce == be && d < best_dist)) {
            best = i;
            best_dist = d;
        }
    }
    return best;
}

fn miss_fallback(pos: vec3<f32>, dir: vec3<f32>) -> vec3<f32> {
    if (mp.ambient_override != 0u || mp.probe_count == 0u) {
        return eval_ambient_sh(dir);
    }
    let idx = select_probe(pos);
    let extent = max(probes[idx].center_extent.w, 1e-3);
    let cam_dist = distance(probes[idx].center_extent.xyz, mp.camera_pos.xyz);
    let w = probes[idx].color_intensity.w / (1.0 + cam_dist / extent);
    return probes[idx].color_intensity.xyz * w;
}

fn shade_hit(u: f32, v: f32, dir: vec3<f32>) -> vec3<f32> {
    let hx = min(u32(u * f32(mp.iw)), mp.iw - 1u);
    let hy = min(u32(v * f32(mp.ih)), mp.ih - 1u);

    if (mp.layer_mask != 0u && (pixel_layers(hx, hy) & mp.layer_mask) == 0u) {
        return vec3<f32>(0.0);
    }
    let hit_n = surface_normal(hx, hy);
    if (dot(hit_n, dir) > 0.0) {
        return vec3<f32>(0.0);
    }
    if (mp.hist_valid != 0u) {
        return history_color(u, v);
    }
    return surface_direct(hx, hy);
}

fn march_ray(origin: vec3<f32>, dir: vec3<f32>) -> vec3<f32> {
    var pos = origin;
    var total = 0u;

    for (var tier = 0u; tier < 3u; tier = tier + 1u) {
        var steps = mp.fine_steps;
        var size = mp.fine_size;
        var mip = 0u;
        if (tier == 1u) {
            steps = mp.medium_steps;
            size = mp.medium_size;
            mip = 1u;
        } else if (tier == 2u) {
            steps = mp.coarse_steps;
            size = mp.coarse_size;
            mip = 2u;
        }

        for (var s = 0u; s < steps; s = s + 1u) {
            if (total >= mp.max_steps) {
                return miss_fallback(pos, dir);
            }
            total = total + 1u;
            pos = pos + dir * size;

            let clip = mp.view_proj * vec4<f32>(pos, 1.0);
            if (clip.w <= 1e-6) {
                return miss_fallback(pos, dir);
            }
            let inv_w = 1.0 / clip.w;
            let u = clip.x * inv_w * 0.5 + 0.5;
            let v = 0.5 - clip.y * inv_w * 0.5;
            let d = clip.z * inv_w;
            if (u < 0.0 || u > 1.0 || v < 0.0 || v > 1.0) {
                return miss_fallback(pos, dir);
            }

            let scene_d = pyramid_sample(mip, u, v);
            if (is_background(scene_d)) {
                continue;
            }
            let ray_t = linearize_depth(d);
            let scene_t = linearize_depth(scene_d);
            if (ray_t < scene_t) {
                continue;
            }
            let thickness = mp.thickness + mp.thickness_growth * f32(total);
            if (ray_t <= scene_t + thickness) {
                return shade_hit(u, v, dir);
            }
        }
    }
    return miss_fallback(pos, dir);
}

fn cosine_dir(n: vec3<f32>, r1: f32, r2: f32) -> vec3<f32> {
    var helper = vec3<f32>(1.0, 0.0, 0.0);
    if (abs(n.x) > 0.9) {
        helper = vec3<f32>(0.0, 1.0, 0.0);
    }
    let t = normalize(cross(helper, n));
    let b = cross(n, t);
    let phi = 2.0 * PI * r1;
    let sin_theta = sqrt(r2);
    let cos_theta = sqrt(1.0 - r2);
    return normalize(t * cos(phi) * sin_theta + b * sin(phi) * sin_theta + n * cos_theta);
}

@compute @workgroup_size(8, 8, 1)
fn main(@builtin(global_invocation_id) gid: vec3<u32>) {
    if (gid.x >= mp.iw || gid.y >= mp.ih) {
        return;
    }
    let out_base = (gid.y * mp.iw + gid.x) * 3u;

    let u = (f32(gid.x) + 0.5) / f32(mp.iw);
    let v = (f32(gid.y) + 0.5) / f32(mp.ih);

    let d = depth_sample(u, v);
    if (is_background(d)) {
        output[out_base] = 0.0;
        output[out_base + 1u] = 0.0;
        output[out_base + 2u] = 0.0;
        return;
    }

    let p = unproject(u, v, d);
    let n = surface_normal(gid.x, gid.y);
    let origin = p + n * NORMAL_BIAS;

    let seed = wang_hash(gid.x * 1973u ^ gid.y * 9277u ^
        mp.frame_index * 26699u ^ mp.rotation_seed);

    var sum = vec3<f32>(0.0);
    for (var r = 0u; r < mp.ray_count; r = r + 1u) {
        let r1 = hash01(seed + r * 2u);
        let r2 = hash01(seed + r * 2u + 1u);
        let dir = cosine_dir(n, r1, r2);
        sum = sum + march_ray(origin, dir);
    }

    var avg = sum / f32(mp.ray_count);
    if (mp.probe_camera != 0u) {
        avg = avg * PROBE_CAMERA_SCALE;
    }

    // Brightness clamp: uniform rescale keeps hue and saturation intact.
    let peak = max(avg.x, max(avg.y, avg.z));
    if (peak > mp.max_brightness) {
        avg = avg * (mp.max_brightness / peak);
    }

    output[out_base] = avg.x;
    output[out_base + 1u] = avg.y;
    output[out_base + 2u] = avg.z;
}
`
